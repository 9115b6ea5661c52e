package mcp

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ServerStore persists MCP server definitions.
type ServerStore interface {
	Save(ctx context.Context, def *models.McpServer) error
	SaveIfAbsent(ctx context.Context, def *models.McpServer) error
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (*models.McpServer, error)
	List(ctx context.Context) ([]*models.McpServer, error)
}

// StoreSync is a fail-soft wrapper over a ServerStore: persistence errors
// are logged and swallowed so the runtime registry keeps working when the
// database is unavailable.
type StoreSync struct {
	store  ServerStore
	logger *slog.Logger
}

// NewStoreSync wraps a persistent server store.
func NewStoreSync(store ServerStore) *StoreSync {
	if store == nil {
		panic("mcp.NewStoreSync: store must not be nil")
	}
	return &StoreSync{
		store:  store,
		logger: slog.Default().With("component", "mcp-store-sync"),
	}
}

// Save persists a definition, logging failures.
func (s *StoreSync) Save(ctx context.Context, def *models.McpServer) {
	if err := s.store.Save(ctx, def); err != nil {
		s.logger.Warn("Failed to persist MCP server", "server", def.Name, "error", err)
	}
}

// SaveIfAbsent persists a definition unless one with the same name exists.
// Idempotent on name; failures are logged.
func (s *StoreSync) SaveIfAbsent(ctx context.Context, def *models.McpServer) {
	if err := s.store.SaveIfAbsent(ctx, def); err != nil {
		s.logger.Warn("Failed to persist MCP server", "server", def.Name, "error", err)
	}
}

// Delete removes a persisted definition, logging failures.
func (s *StoreSync) Delete(ctx context.Context, name string) {
	if err := s.store.Delete(ctx, name); err != nil {
		s.logger.Warn("Failed to delete persisted MCP server", "server", name, "error", err)
	}
}

// List returns persisted definitions, or nil when the store is unavailable.
func (s *StoreSync) List(ctx context.Context) []*models.McpServer {
	defs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("Failed to list persisted MCP servers", "error", err)
		return nil
	}
	return defs
}
