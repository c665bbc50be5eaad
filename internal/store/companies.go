// ABOUTME: Company, sector and per-company generation config persistence
// ABOUTME: Company configs are created lazily with defaults on first read

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const companyColumns = `id, name, slug, channel_id, timezone, sector_id, is_active, created_at, updated_at`

func scanCompany(row rowScanner) (*Company, error) {
	var c Company
	var sectorID sql.NullString
	var createdAt, updatedAt dbTime

	if err := row.Scan(
		&c.ID, &c.Name, &c.Slug, &c.ChannelID, &c.Timezone, &sectorID, &c.IsActive, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if sectorID.Valid {
		c.SectorID = &sectorID.String
	}
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return &c, nil
}

// CreateCompany creates a company. Slug and ChannelID must be unique.
func (s *SQLStore) CreateCompany(ctx context.Context, c *Company) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timezone == "" {
		c.Timezone = "America/Argentina/Buenos_Aires"
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	query := s.q(`
		INSERT INTO companies (` + companyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var sectorID any
	if c.SectorID != nil {
		sectorID = *c.SectorID
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Slug, c.ChannelID, c.Timezone, sectorID, c.IsActive,
		s.timeArg(c.CreatedAt), s.timeArg(c.UpdatedAt),
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("company %q: %w", c.Slug, ErrDuplicate)
		}
		return fmt.Errorf("inserting company: %w", err)
	}

	s.logger.Debug("created company", "id", c.ID, "slug", c.Slug)
	return nil
}

// GetCompany retrieves a company by ID.
func (s *SQLStore) GetCompany(ctx context.Context, id string) (*Company, error) {
	return s.getCompany(ctx, "id", id)
}

// GetCompanyByChannelID resolves the company that owns an inbound channel.
func (s *SQLStore) GetCompanyByChannelID(ctx context.Context, channelID string) (*Company, error) {
	return s.getCompany(ctx, "channel_id", channelID)
}

func (s *SQLStore) getCompany(ctx context.Context, column, value string) (*Company, error) {
	query := s.q(`SELECT ` + companyColumns + ` FROM companies WHERE ` + column + ` = ?`)

	c, err := scanCompany(s.db.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying company: %w", err)
	}
	return c, nil
}

// ListCompanies returns all companies ordered by name.
func (s *SQLStore) ListCompanies(ctx context.Context) ([]*Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var companies []*Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning company: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating companies: %w", err)
	}
	return companies, nil
}

// CreateSector creates a sector.
func (s *SQLStore) CreateSector(ctx context.Context, sector *Sector) error {
	if sector.ID == "" {
		sector.ID = uuid.New().String()
	}
	if sector.CreatedAt.IsZero() {
		sector.CreatedAt = time.Now().UTC()
	}

	query := s.q(`INSERT INTO sectors (id, name, system_prompt, created_at) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, sector.ID, sector.Name, sector.SystemPrompt, s.timeArg(sector.CreatedAt))
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("sector %q: %w", sector.Name, ErrDuplicate)
		}
		return fmt.Errorf("inserting sector: %w", err)
	}
	return nil
}

// GetSector retrieves a sector by ID.
func (s *SQLStore) GetSector(ctx context.Context, id string) (*Sector, error) {
	query := s.q(`SELECT id, name, system_prompt, created_at FROM sectors WHERE id = ?`)

	var sector Sector
	var createdAt dbTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(&sector.ID, &sector.Name, &sector.SystemPrompt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying sector: %w", err)
	}
	sector.CreatedAt = createdAt.Time
	return &sector, nil
}

// GetCompanyConfig returns the company's generation config, creating the
// default row on first access.
func (s *SQLStore) GetCompanyConfig(ctx context.Context, companyID string) (*CompanyConfig, error) {
	cfg, err := s.readCompanyConfig(ctx, companyID)
	if err != ErrNotFound {
		return cfg, err
	}

	def := DefaultCompanyConfig(companyID)
	def.UpdatedAt = time.Now().UTC()
	query := s.q(`
		INSERT INTO company_configs (company_id, system_prompt, max_tokens, temperature, model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query,
		def.CompanyID, def.SystemPrompt, def.MaxTokens, def.Temperature, def.Model, s.timeArg(def.UpdatedAt),
	); err != nil {
		return nil, fmt.Errorf("creating default company config: %w", err)
	}

	return s.readCompanyConfig(ctx, companyID)
}

func (s *SQLStore) readCompanyConfig(ctx context.Context, companyID string) (*CompanyConfig, error) {
	query := s.q(`
		SELECT company_id, system_prompt, max_tokens, temperature, model, updated_at
		FROM company_configs
		WHERE company_id = ?`)

	var cfg CompanyConfig
	var updatedAt dbTime
	err := s.db.QueryRowContext(ctx, query, companyID).Scan(
		&cfg.CompanyID, &cfg.SystemPrompt, &cfg.MaxTokens, &cfg.Temperature, &cfg.Model, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying company config: %w", err)
	}
	cfg.UpdatedAt = updatedAt.Time
	return &cfg, nil
}

// SaveCompanyConfig validates and stores cfg, replacing any previous row.
func (s *SQLStore) SaveCompanyConfig(ctx context.Context, cfg *CompanyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()

	query := s.q(`
		INSERT INTO company_configs (company_id, system_prompt, max_tokens, temperature, model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id) DO UPDATE
			SET system_prompt = excluded.system_prompt,
			    max_tokens = excluded.max_tokens,
			    temperature = excluded.temperature,
			    model = excluded.model,
			    updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query,
		cfg.CompanyID, cfg.SystemPrompt, cfg.MaxTokens, cfg.Temperature, cfg.Model, s.timeArg(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving company config: %w", err)
	}
	return nil
}
