// ABOUTME: Message ledger - append-only conversation history and its counters
// ABOUTME: Appends lock the conversation row so seq, total and last_message_at stay consistent

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/store"
)

// ErrEmptyContent is returned when appending a message with no content
var ErrEmptyContent = errors.New("message content is empty")

// ErrInvalidRole is returned when appending a message with an unknown role
var ErrInvalidRole = errors.New("invalid message role")

// Metrics carries optional per-message measurements
type Metrics struct {
	TokensUsed int
	LatencyMS  *int
	ExternalID string // channel message id, when known
}

// Ledger is the only writer of messages and of the conversation counters.
type Ledger struct {
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// NewLedger creates a Ledger
func NewLedger(s Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  s,
		clock:  time.Now,
		logger: logger.With("component", "ledger"),
	}
}

// Append records a message and updates the conversation counters in the same
// transaction. created_at never goes backwards within a conversation.
func (l *Ledger) Append(ctx context.Context, conversationID string, role store.MessageRole, content string, m Metrics) (*store.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	var msg *store.Message
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		conv, err := tx.LockConversation(ctx, conversationID)
		if err != nil {
			return err
		}

		now := l.clock().UTC()
		if conv.LastMessageAt != nil && now.Before(*conv.LastMessageAt) {
			now = *conv.LastMessageAt
		}

		msg = &store.Message{
			ConversationID: conversationID,
			Seq:            conv.TotalMessages + 1,
			Role:           role,
			Content:        content,
			TokensUsed:     m.TokensUsed,
			LatencyMS:      m.LatencyMS,
			ExternalID:     m.ExternalID,
			CreatedAt:      now,
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.UpdateConversationActivity(ctx, conversationID, msg.Seq, now)
	})
	if err != nil {
		return nil, fmt.Errorf("appending %s message: %w", role, err)
	}

	l.logger.Debug("message appended",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"seq", msg.Seq,
		"role", string(role))
	return msg, nil
}

// RecentHistory returns up to limit most recent messages, oldest first.
func (l *Ledger) RecentHistory(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	msgs, err := l.store.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return msgs, nil
}
