// ABOUTME: Store data types and sentinel errors for jarvisp persistence
// ABOUTME: Defines companies, customers, conversations, messages and the Tx contract

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a second active conversation
// would be created for the same (company, customer) pair
var ErrDuplicateConversation = errors.New("active conversation already exists")

// ErrDuplicate is returned when a unique constraint other than the active
// conversation index rejects an insert
var ErrDuplicate = errors.New("already exists")

// Company is the tenant boundary. ChannelID is the external channel
// identifier (the WhatsApp phone number id) used to route inbound events.
type Company struct {
	ID        string
	Name      string
	Slug      string
	ChannelID string
	Timezone  string
	SectorID  *string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sector groups companies of the same industry and carries a shared prompt prefix.
type Sector struct {
	ID           string
	Name         string
	SystemPrompt string
	CreatedAt    time.Time
}

// Defaults for CompanyConfig, applied when a company has no config row yet.
const (
	DefaultSystemPrompt = "Sos un asistente de soporte para {company_name}. Ayudás con consultas sobre servicio de Internet. Sé amable y profesional."
	DefaultMaxTokens    = 500
	DefaultTemperature  = 0.7

	MaxTokensLimit   = 8192
	TemperatureLimit = 2.0
)

// CompanyConfig holds per-company generation settings.
type CompanyConfig struct {
	CompanyID    string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // empty means the backend default
	UpdatedAt    time.Time
}

// DefaultCompanyConfig returns the config used for companies that never saved one.
func DefaultCompanyConfig(companyID string) *CompanyConfig {
	return &CompanyConfig{
		CompanyID:    companyID,
		SystemPrompt: DefaultSystemPrompt,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
	}
}

// Validate checks the generation bounds.
func (c *CompanyConfig) Validate() error {
	if c.MaxTokens < 1 || c.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("max_tokens must be between 1 and %d, got %d", MaxTokensLimit, c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > TemperatureLimit {
		return fmt.Errorf("temperature must be between 0 and %.1f, got %v", TemperatureLimit, c.Temperature)
	}
	return nil
}

// Customer is a person talking to a company, keyed by canonical phone.
type Customer struct {
	ID              string
	CompanyID       string
	Phone           string
	Name            string
	Email           string
	ExternalID      string
	Metadata        map[string]any
	LastInteraction time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConversationStatus is the lifecycle tag of a conversation
type ConversationStatus string

const (
	StatusNew              ConversationStatus = "new"
	StatusBotActive        ConversationStatus = "bot_active"
	StatusAwaitingCustomer ConversationStatus = "awaiting_customer"
	StatusEscalated        ConversationStatus = "escalated"
	StatusTransferred      ConversationStatus = "transferred"
	StatusAgentActive      ConversationStatus = "agent_active"
	StatusResolved         ConversationStatus = "resolved"
	StatusClosed           ConversationStatus = "closed"
	StatusArchived         ConversationStatus = "archived"
)

// Conversation groups the messages exchanged with one customer.
// At most one conversation per (company, customer) has IsActive set.
type Conversation struct {
	ID            string
	CompanyID     string
	CustomerID    string
	Status        ConversationStatus
	IsActive      bool
	StartedAt     time.Time
	LastMessageAt *time.Time
	TotalMessages int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MessageRole identifies who authored a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleAgent     MessageRole = "agent"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// Message is an immutable ledger entry. Seq is its 1-based position in the conversation.
type Message struct {
	ID             string
	ConversationID string
	Seq            int
	Role           MessageRole
	Content        string
	TokensUsed     int
	LatencyMS      *int
	ExternalID     string
	CreatedAt      time.Time
}

// Tx is the set of operations available inside a store transaction.
// Row locks taken through it are held until the transaction ends.
type Tx interface {
	// UpsertCustomer creates the customer for (companyID, phone) or refreshes
	// its last_interaction, returning the stored row.
	UpsertCustomer(ctx context.Context, companyID, phone, name string, now time.Time) (*Customer, error)
	LockCustomer(ctx context.Context, customerID string) error
	GetActiveConversation(ctx context.Context, companyID, customerID string) (*Conversation, error)
	// CreateConversation returns ErrDuplicateConversation when the pair already has an active one.
	CreateConversation(ctx context.Context, conv *Conversation) error
	LockConversation(ctx context.Context, id string) (*Conversation, error)
	InsertMessage(ctx context.Context, msg *Message) error
	UpdateConversationActivity(ctx context.Context, id string, totalMessages int, lastMessageAt time.Time) error
	UpdateConversationStatus(ctx context.Context, id string, status ConversationStatus, isActive bool, now time.Time) error
}
