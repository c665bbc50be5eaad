// ABOUTME: Conversation lifecycle transitions
// ABOUTME: Closing or archiving a conversation deactivates it so the next inbound event starts a new one

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/store"
)

// ErrInvalidTransition is returned when a status change is not an allowed edge
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[store.ConversationStatus][]store.ConversationStatus{
	store.StatusNew:              {store.StatusBotActive},
	store.StatusBotActive:        {store.StatusAwaitingCustomer, store.StatusEscalated},
	store.StatusAwaitingCustomer: {store.StatusBotActive},
	store.StatusEscalated:        {store.StatusTransferred},
	store.StatusTransferred:      {store.StatusAgentActive},
	store.StatusAgentActive:      {store.StatusResolved},
	store.StatusResolved:         {store.StatusClosed},
	store.StatusClosed:           {store.StatusArchived},
}

// CanTransition reports whether from -> to is an allowed lifecycle edge.
func CanTransition(from, to store.ConversationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known status
func ValidStatus(s store.ConversationStatus) bool {
	if s == store.StatusArchived {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// terminal statuses release the one-active-conversation slot
func terminal(s store.ConversationStatus) bool {
	return s == store.StatusClosed || s == store.StatusArchived
}

// Lifecycle applies status transitions.
type Lifecycle struct {
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle
func NewLifecycle(s Store, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:  s,
		clock:  time.Now,
		logger: logger.With("component", "lifecycle"),
	}
}

// Transition moves the conversation to status to. It returns ErrInvalidTransition
// when the edge isn't allowed from the current status.
func (l *Lifecycle) Transition(ctx context.Context, conversationID string, to store.ConversationStatus) (*store.Conversation, error) {
	var updated *store.Conversation
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		conv, err := tx.LockConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !CanTransition(conv.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, conv.Status, to)
		}

		active := conv.IsActive && !terminal(to)
		now := l.clock().UTC()
		if err := tx.UpdateConversationStatus(ctx, conversationID, to, active, now); err != nil {
			return err
		}

		from := conv.Status
		conv.Status = to
		conv.IsActive = active
		conv.UpdatedAt = now
		updated = conv

		l.logger.Info("conversation status changed",
			"conversation_id", conversationID,
			"from", string(from),
			"to", string(to))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
