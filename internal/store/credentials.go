// ABOUTME: Integration credential storage for third-party business systems
// ABOUTME: Secrets are opaque here; token fields are written only by the integration client

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CredentialKindISPCube identifies ISPCube credentials
const CredentialKindISPCube = "ispcube"

// IntegrationCredential holds the login material for one external system
// account of a company. APIToken and TokenExpiresAt cache the last issued token.
type IntegrationCredential struct {
	ID             string
	CompanyID      string
	Kind           string
	Subdomain      string
	BaseURL        string
	Username       string
	Password       string
	APIKey         string
	ClientID       string
	APIToken       string
	TokenExpiresAt *time.Time
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const credentialColumns = `id, company_id, kind, subdomain, base_url, username, password, api_key, client_id,
	api_token, token_expires_at, is_active, created_at, updated_at`

func scanCredential(row rowScanner) (*IntegrationCredential, error) {
	var c IntegrationCredential
	var token sql.NullString
	var expiresAt, createdAt, updatedAt dbTime

	if err := row.Scan(
		&c.ID, &c.CompanyID, &c.Kind, &c.Subdomain, &c.BaseURL, &c.Username, &c.Password,
		&c.APIKey, &c.ClientID, &token, &expiresAt, &c.IsActive, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.APIToken = token.String
	c.TokenExpiresAt = expiresAt.ptr()
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return &c, nil
}

// CreateIntegrationCredential stores a new credential.
// (company, kind, subdomain) must be unique.
func (s *SQLStore) CreateIntegrationCredential(ctx context.Context, c *IntegrationCredential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := s.q(`
		INSERT INTO integration_credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.CompanyID, c.Kind, c.Subdomain, c.BaseURL, c.Username, c.Password,
		c.APIKey, c.ClientID, nullString(c.APIToken), s.nullTimeArg(c.TokenExpiresAt), c.IsActive,
		s.timeArg(c.CreatedAt), s.timeArg(c.UpdatedAt),
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("%s credential for subdomain %q: %w", c.Kind, c.Subdomain, ErrDuplicate)
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Debug("created integration credential", "id", c.ID, "kind", c.Kind, "company_id", c.CompanyID)
	return nil
}

// GetIntegrationCredential retrieves a credential by ID.
func (s *SQLStore) GetIntegrationCredential(ctx context.Context, id string) (*IntegrationCredential, error) {
	query := s.q(`SELECT ` + credentialColumns + ` FROM integration_credentials WHERE id = ?`)

	c, err := scanCredential(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return c, nil
}

// ListActiveCredentials returns the active credentials of one kind for a company,
// ordered by subdomain.
func (s *SQLStore) ListActiveCredentials(ctx context.Context, companyID, kind string) ([]*IntegrationCredential, error) {
	query := s.q(`
		SELECT ` + credentialColumns + `
		FROM integration_credentials
		WHERE company_id = ? AND kind = ? AND is_active = ?
		ORDER BY subdomain`)

	rows, err := s.db.QueryContext(ctx, query, companyID, kind, true)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*IntegrationCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// SaveCredentialToken records a freshly issued token and its expiry.
func (s *SQLStore) SaveCredentialToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	query := s.q(`
		UPDATE integration_credentials
		SET api_token = ?, token_expires_at = ?, updated_at = ?
		WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, token, s.timeArg(expiresAt), s.timeArg(time.Now()), id)
	if err != nil {
		return fmt.Errorf("saving credential token: %w", err)
	}
	return requireRow(result)
}
