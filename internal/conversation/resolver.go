// ABOUTME: Session resolver mapping an inbound identity to a customer and active conversation
// ABOUTME: Runs in one transaction under a per-customer lock; retries once on a duplicate-insert race

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/phone"
	"github.com/facmartoni/jarvisp-prod/internal/store"
)

// ErrInvalidIdentity is returned when the inbound identity is empty after trimming
var ErrInvalidIdentity = errors.New("empty sender identity")

// Store is the subset of storage the conversation layer needs
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// Resolution is the outcome of resolving an inbound identity.
type Resolution struct {
	Identity     phone.Identity
	Customer     *store.Customer
	Conversation *store.Conversation
	Created      bool // true when this call created the conversation
}

// Resolver finds or creates the customer and active conversation for inbound events.
type Resolver struct {
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// NewResolver creates a Resolver
func NewResolver(s Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		clock:  time.Now,
		logger: logger.With("component", "resolver"),
	}
}

// Resolve maps rawIdentity within company to its customer and active
// conversation, creating either as needed. Concurrent calls for the same
// identity observe the same conversation and exactly one reports Created.
// Resolve never changes conversation status.
func (r *Resolver) Resolve(ctx context.Context, company *store.Company, rawIdentity string) (*Resolution, error) {
	return r.ResolveWithName(ctx, company, rawIdentity, "")
}

// ResolveWithName is Resolve with the sender's display name, as reported by
// the channel. The name is stored on a new customer and replaces the phone
// placeholder of an existing one; a name already set is kept.
func (r *Resolver) ResolveWithName(ctx context.Context, company *store.Company, rawIdentity, displayName string) (*Resolution, error) {
	id := phone.Normalize(rawIdentity)
	if id.Canonical == "" {
		return nil, ErrInvalidIdentity
	}
	if !id.Valid {
		r.logger.Warn("identity could not be normalized, using pass-through",
			"company_id", company.ID,
			"raw", rawIdentity)
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = id.Canonical
	}

	res, err := r.resolveOnce(ctx, company, id, name)
	if errors.Is(err, store.ErrDuplicateConversation) {
		// Another request created the conversation between our lookup and
		// insert. The retry finds it.
		r.logger.Debug("duplicate conversation on create, retrying", "company_id", company.ID)
		res, err = r.resolveOnce(ctx, company, id, name)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	if res.Created {
		r.logger.Info("conversation started",
			"conversation_id", res.Conversation.ID,
			"customer_id", res.Customer.ID,
			"company_id", company.ID)
	}
	return res, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, company *store.Company, id phone.Identity, name string) (*Resolution, error) {
	res := &Resolution{Identity: id}

	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := r.clock().UTC()

		customer, err := tx.UpsertCustomer(ctx, company.ID, id.Canonical, name, now)
		if err != nil {
			return err
		}
		if err := tx.LockCustomer(ctx, customer.ID); err != nil {
			return err
		}
		res.Customer = customer

		conv, err := tx.GetActiveConversation(ctx, company.ID, customer.ID)
		if err == nil {
			res.Conversation = conv
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		conv = &store.Conversation{
			CompanyID:  company.ID,
			CustomerID: customer.ID,
			Status:     store.StatusNew,
			IsActive:   true,
			StartedAt:  now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		res.Conversation = conv
		res.Created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
