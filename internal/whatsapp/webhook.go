// ABOUTME: WhatsApp Cloud API webhook parsing and verification
// ABOUTME: Extracts inbound text messages and checks the subscribe handshake and payload signature

package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBadSignature is returned when X-Hub-Signature-256 doesn't match the body.
var ErrBadSignature = errors.New("invalid webhook signature")

// SignatureHeader carries the HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// InboundEvent is one text message received on a business number.
type InboundEvent struct {
	// SenderIdentity is the sender's phone number as delivered by the channel.
	SenderIdentity string
	MessageBody    string
	MessageID      string
	// ChannelID is the receiving phone_number_id; it selects the company.
	ChannelID string
	Timestamp string
	// ProfileName is the sender's WhatsApp display name, when present.
	ProfileName string
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook returns every text message in the payload. Status updates,
// non-text messages and malformed entries are skipped; a payload that isn't
// JSON is an error.
func ParseWebhook(payload []byte) ([]InboundEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}

	var events []InboundEvent
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			channelID := v.Metadata.PhoneNumberID
			if channelID == "" {
				continue
			}

			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, m := range v.Messages {
				if m.Type != "text" || m.From == "" || strings.TrimSpace(m.Text.Body) == "" {
					continue
				}
				events = append(events, InboundEvent{
					SenderIdentity: m.From,
					MessageBody:    m.Text.Body,
					MessageID:      m.ID,
					ChannelID:      channelID,
					Timestamp:      m.Timestamp,
					ProfileName:    names[m.From],
				})
			}
		}
	}
	return events, nil
}

// VerifyHandshake checks a subscription request. It returns the challenge to
// echo and true when hub.mode is "subscribe" and hub.verify_token matches.
func VerifyHandshake(query url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" {
		return "", false
	}
	if query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(query.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// VerifySignature checks header, formatted "sha256=<hex>", against the
// HMAC-SHA256 of body keyed with appSecret.
func VerifySignature(body []byte, header, appSecret string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
