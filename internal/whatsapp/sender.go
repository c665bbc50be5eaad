// ABOUTME: Outbound text sender for the WhatsApp Cloud API
// ABOUTME: Reports success as a bool and logs the provider message id

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAPIURL      = "https://graph.facebook.com/v21.0"
	DefaultSendTimeout = 10 * time.Second
)

// SendResult describes an accepted outbound message.
type SendResult struct {
	MessageID string
}

// Sender delivers text replies to a recipient on a business number.
type Sender interface {
	Send(ctx context.Context, channelID, recipient, text string) (*SendResult, bool)
}

// CloudSender posts to {api_url}/{phone_number_id}/messages.
type CloudSender struct {
	apiURL      string
	accessToken string
	client      *http.Client
	timeout     time.Duration
	logger      *slog.Logger
}

var _ Sender = (*CloudSender)(nil)

// NewCloudSender creates a CloudSender. An empty apiURL uses DefaultAPIURL.
func NewCloudSender(apiURL, accessToken string, timeout time.Duration, logger *slog.Logger) *CloudSender {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudSender{
		apiURL:      strings.TrimSuffix(apiURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{},
		timeout:     timeout,
		logger:      logger.With("component", "whatsapp-sender"),
	}
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send posts a text message. It reports false on any transport error or
// non-2xx response; failures are logged, not returned.
func (s *CloudSender) Send(ctx context.Context, channelID, recipient, text string) (*SendResult, bool) {
	logger := s.logger.With("channel_id", channelID, "recipient", recipient)

	result, err := s.post(ctx, channelID, recipient, text)
	if err != nil {
		logger.Error("failed to send whatsapp message", "error", err)
		return nil, false
	}
	logger.Info("whatsapp message sent", "message_id", result.MessageID)
	return result, true
}

func (s *CloudSender) post(ctx context.Context, channelID, recipient, text string) (*SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
	}
	msg.Text.Body = text

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.apiURL+"/"+channelID+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("whatsapp returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out sendResponse
	result := &SendResult{}
	if json.Unmarshal(respBody, &out) == nil && len(out.Messages) > 0 {
		result.MessageID = out.Messages[0].ID
	}
	return result, nil
}
