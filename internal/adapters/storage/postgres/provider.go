// Package postgres provides the PostgreSQL storage adapter, backed by the
// pgx database/sql driver.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/storage/sqldb"
)

// Provider implements ports.StorageProvider using PostgreSQL.
type Provider struct {
	*sqldb.Store
}

// NewProvider connects to dsn and verifies the connection.
func NewProvider(ctx context.Context, dsn string, maxOpenConns int) (*Provider, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}

	store, err := sqldb.New(sqldb.Config{Driver: "pgx", DSN: dsn, MaxOpenConns: maxOpenConns})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Provider{Store: store}, nil
}

var _ ports.StorageProvider = (*Provider)(nil)
