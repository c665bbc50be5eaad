// ABOUTME: Inbound event pipeline from webhook event to delivered reply
// ABOUTME: Dedupes, resolves the session, records the ledger, generates and sends the reply

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/conversation"
	"github.com/facmartoni/jarvisp-prod/internal/dedupe"
	"github.com/facmartoni/jarvisp-prod/internal/metrics"
	"github.com/facmartoni/jarvisp-prod/internal/phone"
	"github.com/facmartoni/jarvisp-prod/internal/reply"
	"github.com/facmartoni/jarvisp-prod/internal/store"
	"github.com/facmartoni/jarvisp-prod/internal/whatsapp"
)

// releaseTimeout bounds the dedupe release after a failed event, whose own
// context may already be done.
const releaseTimeout = 5 * time.Second

// Store is the persistence the gateway needs.
type Store interface {
	conversation.Store
	reply.Store

	GetCompany(ctx context.Context, id string) (*store.Company, error)
	GetCompanyByChannelID(ctx context.Context, channelID string) (*store.Company, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetCustomer(ctx context.Context, id string) (*store.Customer, error)
	ListActiveCredentials(ctx context.Context, companyID, kind string) ([]*store.IntegrationCredential, error)
	SaveCredentialToken(ctx context.Context, id, token string, expiresAt time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// PipelineConfig holds the collaborators of a Pipeline.
type PipelineConfig struct {
	Store           Store
	Dedupe          dedupe.Deduper
	Orchestrator    *reply.Orchestrator
	Sender          whatsapp.Sender
	EventTimeout    time.Duration
	ActivateOnReply bool
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Pipeline processes inbound events one at a time. It is safe for concurrent use.
type Pipeline struct {
	store           Store
	dedupe          dedupe.Deduper
	resolver        *conversation.Resolver
	ledger          *conversation.Ledger
	lifecycle       *conversation.Lifecycle
	orchestrator    *reply.Orchestrator
	sender          whatsapp.Sender
	eventTimeout    time.Duration
	activateOnReply bool
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:           cfg.Store,
		dedupe:          cfg.Dedupe,
		resolver:        conversation.NewResolver(cfg.Store, logger),
		ledger:          conversation.NewLedger(cfg.Store, logger),
		lifecycle:       conversation.NewLifecycle(cfg.Store, logger),
		orchestrator:    cfg.Orchestrator,
		sender:          cfg.Sender,
		eventTimeout:    cfg.EventTimeout,
		activateOnReply: cfg.ActivateOnReply,
		metrics:         cfg.Metrics,
		logger:          logger.With("component", "pipeline"),
	}
}

// Process handles one inbound event. A non-nil error means the event was not
// recorded and should be redelivered; its dedupe claim has been released.
// Events that redelivery cannot fix (unknown channel, inactive company,
// duplicates) return nil.
func (p *Pipeline) Process(ctx context.Context, ev whatsapp.InboundEvent) error {
	logger := p.logger.With("channel_id", ev.ChannelID, "message_id", ev.MessageID)

	key := dedupe.EventKey(ev.ChannelID, ev.MessageID)
	claimed := false
	if ev.MessageID != "" && p.dedupe != nil {
		ok, err := p.dedupe.Claim(ctx, key)
		switch {
		case err != nil:
			logger.Warn("dedupe claim failed, processing without it", "error", err)
		case !ok:
			logger.Debug("duplicate event dropped")
			p.metrics.DuplicateDropped()
			p.metrics.InboundEvent(metrics.ResultDuplicate)
			return nil
		default:
			claimed = true
		}
	}

	if p.eventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.eventTimeout)
		defer cancel()
	}

	err := p.process(ctx, logger, ev)
	if err == nil {
		return nil
	}

	p.metrics.InboundEvent(metrics.ResultError)
	logger.Error("event processing failed", "error", err)
	if claimed {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if rerr := p.dedupe.Release(releaseCtx, key); rerr != nil {
			logger.Warn("releasing dedupe key failed", "error", rerr)
		}
	}
	return err
}

func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, ev whatsapp.InboundEvent) error {
	company, err := p.store.GetCompanyByChannelID(ctx, ev.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("event for unknown channel ignored")
		p.metrics.InboundEvent(metrics.ResultIgnored)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up company: %w", err)
	}
	if !company.IsActive {
		logger.Info("event for inactive company ignored", "company_id", company.ID)
		p.metrics.InboundEvent(metrics.ResultIgnored)
		return nil
	}
	logger = logger.With("company_id", company.ID)

	res, err := p.resolver.ResolveWithName(ctx, company, ev.SenderIdentity, ev.ProfileName)
	if errors.Is(err, conversation.ErrInvalidIdentity) {
		logger.Warn("event without sender identity ignored")
		p.metrics.InboundEvent(metrics.ResultIgnored)
		return nil
	}
	if err != nil {
		return err
	}
	if res.Created {
		p.metrics.SessionCreated()
	}
	conv := res.Conversation
	logger = logger.With("conversation_id", conv.ID)

	if _, err := p.ledger.Append(ctx, conv.ID, store.RoleUser, ev.MessageBody, conversation.Metrics{ExternalID: ev.MessageID}); err != nil {
		return fmt.Errorf("recording inbound message: %w", err)
	}
	p.metrics.LedgerAppend(string(store.RoleUser))

	start := time.Now()
	text, tokens := p.orchestrator.Generate(ctx, company, conv)

	recipient := strings.TrimPrefix(phone.DeliveryForm(res.Identity.Canonical), "+")
	sent, ok := p.sender.Send(ctx, company.ChannelID, recipient, whatsapp.FormatReply(text))
	if !ok {
		// The inbound message is recorded; redelivery would only duplicate it.
		logger.Warn("reply not delivered")
		p.metrics.OutboundSend(metrics.ResultFailed)
		p.metrics.InboundEvent(metrics.ResultOK)
		return nil
	}
	p.metrics.OutboundSend(metrics.ResultOK)

	latency := int(time.Since(start).Milliseconds())
	m := conversation.Metrics{TokensUsed: tokens, LatencyMS: &latency}
	if sent != nil {
		m.ExternalID = sent.MessageID
	}
	if _, err := p.ledger.Append(ctx, conv.ID, store.RoleAssistant, text, m); err != nil {
		// The reply already reached the customer, so the event is not retried.
		logger.Error("recording delivered reply failed", "error", err)
	} else {
		p.metrics.LedgerAppend(string(store.RoleAssistant))
	}

	if p.activateOnReply && conv.Status == store.StatusNew {
		if _, err := p.lifecycle.Transition(ctx, conv.ID, store.StatusBotActive); err != nil {
			logger.Warn("activating conversation failed", "error", err)
		}
	}

	logger.Info("event processed", "created", res.Created, "tokens", tokens, "latency_ms", latency)
	p.metrics.InboundEvent(metrics.ResultOK)
	return nil
}
