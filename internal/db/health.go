package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolProbe reports database health by pinging the connection pool. It is
// registered with the API server's health endpoint.
type PoolProbe struct {
	pool *pgxpool.Pool
}

// NewPoolProbe creates a health probe for the given pool.
func NewPoolProbe(pool *pgxpool.Pool) *PoolProbe {
	return &PoolProbe{pool: pool}
}

// Name identifies this probe in the health response.
func (p *PoolProbe) Name() string { return "database" }

// Check pings the pool, respecting the caller's deadline.
func (p *PoolProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
