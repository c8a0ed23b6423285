package leads

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS leads (
	id         BIGSERIAL PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	trace_id   TEXT NOT NULL DEFAULT '',
	service    TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	contact    TEXT NOT NULL DEFAULT '',
	product    TEXT NOT NULL DEFAULT '',
	size       TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	address    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, sender_id, trace_id)
);
CREATE INDEX IF NOT EXISTS leads_tenant_created_idx ON leads (tenant_id, created_at DESC);
`

// PostgresSink stores leads in PostgreSQL.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to databaseURL and creates the leads table if needed.
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate leads table: %w", err)
	}

	return &PostgresSink{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveLead inserts lead. A lead already stored for the same conversation is ignored.
func (s *PostgresSink) SaveLead(ctx context.Context, lead model.Lead) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leads (tenant_id, sender_id, trace_id, service, name, contact, product, size, color, city, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, sender_id, trace_id) DO NOTHING
	`, lead.TenantID, lead.SenderID, lead.TraceID, lead.Service, lead.Name, lead.Contact,
		lead.Product, lead.Size, lead.Color, lead.City, lead.Address, lead.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

// Recent returns the newest leads of tenantID.
func (s *PostgresSink) Recent(ctx context.Context, tenantID string, limit int) ([]model.Lead, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, sender_id, trace_id, service, name, contact, product, size, color, city, address, created_at
		FROM leads WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Lead, error) {
		var l model.Lead
		err := row.Scan(&l.TenantID, &l.SenderID, &l.TraceID, &l.Service, &l.Name, &l.Contact,
			&l.Product, &l.Size, &l.Color, &l.City, &l.Address, &l.CreatedAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan leads: %w", err)
	}
	return out, nil
}
