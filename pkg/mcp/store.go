package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ErrServerNotFound is returned by PgServerStore.Get for unknown names.
var ErrServerNotFound = errors.New("mcp server not found")

// PgServerStore is the PostgreSQL-backed ServerStore.
type PgServerStore struct {
	pool *pgxpool.Pool
}

var _ ServerStore = (*PgServerStore)(nil)

// NewPgServerStore creates a persistent server store.
func NewPgServerStore(pool *pgxpool.Pool) *PgServerStore {
	if pool == nil {
		panic("mcp.NewPgServerStore: pool must not be nil")
	}
	return &PgServerStore{pool: pool}
}

// Save upserts a definition by name.
func (s *PgServerStore) Save(ctx context.Context, def *models.McpServer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mcp_servers (name, transport, config, version, auto_connect, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			transport = EXCLUDED.transport,
			config = EXCLUDED.config,
			version = EXCLUDED.version,
			auto_connect = EXCLUDED.auto_connect,
			description = EXCLUDED.description`,
		def.Name, def.Transport, def.Config, def.Version, def.AutoConnect, def.Description)
	if err != nil {
		return fmt.Errorf("save mcp server %q: %w", def.Name, err)
	}
	return nil
}

// SaveIfAbsent inserts a definition, leaving an existing row untouched.
func (s *PgServerStore) SaveIfAbsent(ctx context.Context, def *models.McpServer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mcp_servers (name, transport, config, version, auto_connect, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO NOTHING`,
		def.Name, def.Transport, def.Config, def.Version, def.AutoConnect, def.Description)
	if err != nil {
		return fmt.Errorf("save mcp server %q: %w", def.Name, err)
	}
	return nil
}

// Delete removes a definition by name. Deleting an absent row is not an
// error.
func (s *PgServerStore) Delete(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mcp_servers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete mcp server %q: %w", name, err)
	}
	return nil
}

// Get returns one definition, or ErrServerNotFound.
func (s *PgServerStore) Get(ctx context.Context, name string) (*models.McpServer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, transport, config, version, auto_connect, description
		FROM mcp_servers WHERE name = $1`, name)
	def, err := scanServer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("get mcp server %q: %w", name, err)
	}
	return def, nil
}

// List returns all persisted definitions ordered by name.
func (s *PgServerStore) List(ctx context.Context) ([]*models.McpServer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, transport, config, version, auto_connect, description
		FROM mcp_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var out []*models.McpServer
	for rows.Next() {
		def, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func scanServer(row pgx.Row) (*models.McpServer, error) {
	var def models.McpServer
	if err := row.Scan(&def.Name, &def.Transport, &def.Config, &def.Version,
		&def.AutoConnect, &def.Description); err != nil {
		return nil, err
	}
	return &def, nil
}
