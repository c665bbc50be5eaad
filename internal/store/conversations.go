// ABOUTME: Customer, conversation and message persistence
// ABOUTME: Transactional mutators live on sqlTxn; plain reads live on SQLStore

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const customerColumns = `id, company_id, phone, name, email, external_id, metadata, last_interaction, created_at, updated_at`

const conversationColumns = `id, company_id, customer_id, status, is_active, started_at, last_message_at, total_messages, created_at, updated_at`

const messageColumns = `id, conversation_id, seq, role, content, tokens_used, latency_ms, external_id, created_at`

func scanCustomer(row rowScanner) (*Customer, error) {
	var c Customer
	var email, externalID sql.NullString
	var metadata string
	var lastInteraction, createdAt, updatedAt dbTime

	if err := row.Scan(
		&c.ID, &c.CompanyID, &c.Phone, &c.Name, &email, &externalID,
		&metadata, &lastInteraction, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.Email = email.String
	c.ExternalID = externalID.String
	c.LastInteraction = lastInteraction.Time
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding customer metadata: %w", err)
		}
	}
	return &c, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var status string
	var startedAt, lastMessageAt, createdAt, updatedAt dbTime

	if err := row.Scan(
		&c.ID, &c.CompanyID, &c.CustomerID, &status, &c.IsActive,
		&startedAt, &lastMessageAt, &c.TotalMessages, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.Status = ConversationStatus(status)
	c.StartedAt = startedAt.Time
	c.LastMessageAt = lastMessageAt.ptr()
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return &c, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var role string
	var latency sql.NullInt64
	var externalID sql.NullString
	var createdAt dbTime

	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &m.TokensUsed,
		&latency, &externalID, &createdAt,
	); err != nil {
		return nil, err
	}

	m.Role = MessageRole(role)
	m.ExternalID = externalID.String
	m.CreatedAt = createdAt.Time
	if latency.Valid {
		v := int(latency.Int64)
		m.LatencyMS = &v
	}
	return &m, nil
}

// sqlTxn implements Tx over a *sql.Tx
type sqlTxn struct {
	s  *SQLStore
	tx *sql.Tx
}

// UpsertCustomer inserts the customer or bumps last_interaction in one statement.
// On conflict the name is only replaced while it still holds the phone
// placeholder and the new name is a real one.
func (t *sqlTxn) UpsertCustomer(ctx context.Context, companyID, phone, name string, now time.Time) (*Customer, error) {
	query := t.s.q(`
		INSERT INTO customers (id, company_id, phone, name, metadata, last_interaction, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', ?, ?, ?)
		ON CONFLICT (company_id, phone) DO UPDATE
			SET last_interaction = excluded.last_interaction,
			    updated_at = excluded.updated_at,
			    name = CASE
			        WHEN customers.name = customers.phone AND excluded.name <> excluded.phone THEN excluded.name
			        ELSE customers.name
			    END
		RETURNING ` + customerColumns)

	ts := t.s.timeArg(now)
	c, err := scanCustomer(t.tx.QueryRowContext(ctx, query,
		uuid.New().String(), companyID, phone, name, ts, ts, ts,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting customer: %w", err)
	}
	return c, nil
}

// LockCustomer takes the per-customer session lock.
func (t *sqlTxn) LockCustomer(ctx context.Context, customerID string) error {
	query := t.s.q(`SELECT id FROM customers WHERE id = ?` + t.s.forUpdate())

	var id string
	err := t.tx.QueryRowContext(ctx, query, customerID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking customer: %w", err)
	}
	return nil
}

// GetActiveConversation returns the locked active conversation for the pair,
// or ErrNotFound.
func (t *sqlTxn) GetActiveConversation(ctx context.Context, companyID, customerID string) (*Conversation, error) {
	query := t.s.q(`
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE company_id = ? AND customer_id = ? AND is_active = ?` + t.s.forUpdate())

	c, err := scanConversation(t.tx.QueryRowContext(ctx, query, companyID, customerID, true))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active conversation: %w", err)
	}
	return c, nil
}

// CreateConversation inserts conv. It returns ErrDuplicateConversation when the
// one-active-conversation index rejects it.
func (t *sqlTxn) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}

	query := t.s.q(`
		INSERT INTO conversations (id, company_id, customer_id, status, is_active, started_at,
			last_message_at, total_messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query,
		conv.ID,
		conv.CompanyID,
		conv.CustomerID,
		string(conv.Status),
		conv.IsActive,
		t.s.timeArg(conv.StartedAt),
		t.s.nullTimeArg(conv.LastMessageAt),
		conv.TotalMessages,
		t.s.timeArg(conv.CreatedAt),
		t.s.timeArg(conv.UpdatedAt),
	)
	if err != nil {
		if t.s.isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	t.s.logger.Debug("created conversation", "id", conv.ID, "company_id", conv.CompanyID, "customer_id", conv.CustomerID)
	return nil
}

// LockConversation reads the conversation and holds its row lock until the transaction ends.
func (t *sqlTxn) LockConversation(ctx context.Context, id string) (*Conversation, error) {
	query := t.s.q(`SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?` + t.s.forUpdate())

	c, err := scanConversation(t.tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking conversation: %w", err)
	}
	return c, nil
}

// InsertMessage appends msg to the ledger.
func (t *sqlTxn) InsertMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	query := t.s.q(`
		INSERT INTO messages (id, conversation_id, seq, role, content, tokens_used, latency_ms, external_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Seq,
		string(msg.Role),
		msg.Content,
		msg.TokensUsed,
		nullInt{msg.LatencyMS},
		nullString(msg.ExternalID),
		t.s.timeArg(msg.CreatedAt),
	)
	if err != nil {
		if t.s.isUniqueViolation(err) {
			return fmt.Errorf("inserting message seq %d: %w", msg.Seq, ErrDuplicate)
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// UpdateConversationActivity writes the ledger counters.
func (t *sqlTxn) UpdateConversationActivity(ctx context.Context, id string, totalMessages int, lastMessageAt time.Time) error {
	query := t.s.q(`
		UPDATE conversations
		SET total_messages = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`)

	ts := t.s.timeArg(lastMessageAt)
	result, err := t.tx.ExecContext(ctx, query, totalMessages, ts, ts, id)
	if err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}
	return requireRow(result)
}

// UpdateConversationStatus sets the lifecycle status and active flag.
func (t *sqlTxn) UpdateConversationStatus(ctx context.Context, id string, status ConversationStatus, isActive bool, now time.Time) error {
	query := t.s.q(`
		UPDATE conversations
		SET status = ?, is_active = ?, updated_at = ?
		WHERE id = ?`)

	result, err := t.tx.ExecContext(ctx, query, string(status), isActive, t.s.timeArg(now), id)
	if err != nil {
		if t.s.isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("updating conversation status: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (s *SQLStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	query := s.q(`SELECT ` + customerColumns + ` FROM customers WHERE id = ?`)

	c, err := scanCustomer(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	return c, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := s.q(`SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`)

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// ListCustomerConversations returns all conversations of a customer, newest first.
func (s *SQLStore) ListCustomerConversations(ctx context.Context, companyID, customerID string) ([]*Conversation, error) {
	query := s.q(`
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE company_id = ? AND customer_id = ?
		ORDER BY started_at DESC`)

	rows, err := s.db.QueryContext(ctx, query, companyID, customerID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// RecentMessages returns the limit most recent messages of a conversation in
// chronological (seq ascending) order.
func (s *SQLStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}

	query := s.q(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
