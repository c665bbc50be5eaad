// ABOUTME: Builds the generation request for a conversation and absorbs backend failures
// ABOUTME: Always yields reply text; failures become a fixed fallback message

package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/generation"
	"github.com/facmartoni/jarvisp-prod/internal/metrics"
	"github.com/facmartoni/jarvisp-prod/internal/store"
)

// FallbackMessage is sent when a reply cannot be generated.
const FallbackMessage = "Disculpá, en este momento no puedo responder. Por favor, intentá de nuevo en unos minutos."

// DefaultHistoryLimit is how many ledger messages form the transcript.
const DefaultHistoryLimit = 20

// Store is what the orchestrator reads.
type Store interface {
	GetCompanyConfig(ctx context.Context, companyID string) (*store.CompanyConfig, error)
	GetSector(ctx context.Context, id string) (*store.Sector, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// Orchestrator turns a conversation into reply text.
type Orchestrator struct {
	store        Store
	generator    generation.Generator
	historyLimit int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator. historyLimit <= 0 uses DefaultHistoryLimit.
func NewOrchestrator(s Store, g generation.Generator, historyLimit int, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Orchestrator{
		store:        s,
		generator:    g,
		historyLimit: historyLimit,
		metrics:      m,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Generate returns the reply for the conversation's current history and the
// tokens the backend reported. It never fails: any error yields
// FallbackMessage with zero tokens.
func (o *Orchestrator) Generate(ctx context.Context, company *store.Company, conv *store.Conversation) (string, int) {
	provider := o.generator.Provider()

	req, err := o.buildRequest(ctx, company, conv)
	if err != nil {
		return o.fallback(&generation.GenerationError{Provider: provider, Err: err}, conv)
	}

	start := time.Now()
	res, err := o.generator.Generate(ctx, req)
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = &generation.GenerationError{Provider: provider, Err: generation.ErrEmptyResponse}
	}
	if err != nil {
		o.metrics.GenerationRequest(provider, metrics.ResultError, elapsed)
		return o.fallback(err, conv)
	}

	o.metrics.GenerationRequest(provider, metrics.ResultOK, elapsed)
	o.logger.Debug("reply generated",
		"conversation_id", conv.ID,
		"tokens", res.TokensUsed,
		"latency_ms", elapsed.Milliseconds())
	return res.Text, res.TokensUsed
}

func (o *Orchestrator) fallback(err error, conv *store.Conversation) (string, int) {
	o.metrics.ReplyFallback()
	o.logger.Error("reply generation failed, sending fallback",
		"conversation_id", conv.ID,
		"company_id", conv.CompanyID,
		"error", err)
	return FallbackMessage, 0
}

func (o *Orchestrator) buildRequest(ctx context.Context, company *store.Company, conv *store.Conversation) (generation.Request, error) {
	cfg, err := o.store.GetCompanyConfig(ctx, company.ID)
	if err != nil {
		return generation.Request{}, fmt.Errorf("loading company config: %w", err)
	}

	instruction, err := o.systemInstruction(ctx, company, cfg)
	if err != nil {
		return generation.Request{}, err
	}

	history, err := o.store.RecentMessages(ctx, conv.ID, o.historyLimit)
	if err != nil {
		return generation.Request{}, fmt.Errorf("reading history: %w", err)
	}

	return generation.Request{
		Transcript:        Transcript(history),
		SystemInstruction: instruction,
		MaxOutputTokens:   cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		Model:             cfg.Model,
	}, nil
}

// systemInstruction substitutes {company_name} into the company prompt and
// prepends the sector prompt when one is set.
func (o *Orchestrator) systemInstruction(ctx context.Context, company *store.Company, cfg *store.CompanyConfig) (string, error) {
	prompt := strings.ReplaceAll(cfg.SystemPrompt, "{company_name}", company.Name)

	if company.SectorID == nil || *company.SectorID == "" {
		return prompt, nil
	}
	sector, err := o.store.GetSector(ctx, *company.SectorID)
	if err != nil {
		return "", fmt.Errorf("loading sector: %w", err)
	}
	if sector.SystemPrompt == "" {
		return prompt, nil
	}
	return sector.SystemPrompt + "\n\n" + prompt, nil
}

// Transcript maps ledger messages onto backend turns. System messages are dropped.
func Transcript(history []*store.Message) []generation.Turn {
	turns := make([]generation.Turn, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case store.RoleUser:
			turns = append(turns, generation.Turn{Role: generation.RoleUser, Text: m.Content})
		case store.RoleAssistant, store.RoleAgent:
			turns = append(turns, generation.Turn{Role: generation.RoleModel, Text: m.Content})
		}
	}
	return turns
}
