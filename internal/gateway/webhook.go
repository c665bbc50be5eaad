// ABOUTME: HTTP handlers for the WhatsApp webhook
// ABOUTME: Answers the subscription handshake and feeds signed payloads into the pipeline

package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/facmartoni/jarvisp-prod/internal/whatsapp"
)

// maxWebhookBody caps the payload size read from the channel.
const maxWebhookBody = 1 << 20

// handleWebhookVerify answers GET /webhooks/whatsapp subscription handshakes.
func (g *Gateway) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	challenge, ok := whatsapp.VerifyHandshake(r.URL.Query(), g.config.WhatsApp.VerifyToken)
	if !ok {
		g.logger.Warn("webhook verification rejected", "mode", r.URL.Query().Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleWebhookEvent handles POST /webhooks/whatsapp. It answers 500 when any
// event must be redelivered, so the channel retries the whole payload;
// already processed events are dropped by dedupe on the retry.
func (g *Gateway) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		g.logger.Warn("reading webhook body failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(body) > maxWebhookBody {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if secret := g.config.WhatsApp.AppSecret; secret != "" {
		if err := whatsapp.VerifySignature(body, r.Header.Get(whatsapp.SignatureHeader), secret); err != nil {
			g.logger.Warn("webhook signature rejected", "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	events, err := whatsapp.ParseWebhook(body)
	if err != nil {
		g.logger.Warn("malformed webhook payload", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var failed error
	for _, ev := range events {
		if err := g.pipeline.Process(r.Context(), ev); err != nil {
			failed = errors.Join(failed, err)
		}
	}
	if failed != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
