package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"shutterdesk/internal/auth"
)

// AuthTxManager implements auth.AuthTxManager on top of a pgx pool. The
// callback receives transaction-scoped repositories so every write inside it
// commits or rolls back atomically.
type AuthTxManager struct {
	pool *pgxpool.Pool
}

// NewAuthTxManager creates a transaction manager backed by the given pool.
func NewAuthTxManager(pool *pgxpool.Pool) *AuthTxManager {
	return &AuthTxManager{pool: pool}
}

// RunInTx begins a transaction, invokes fn with repositories bound to it, and
// commits on success. Any error from fn rolls the transaction back and is
// returned unchanged so typed AppErrors survive.
func (m *AuthTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, txSessionRepo auth.SessionRepo, txRefreshRepo auth.RefreshRepo, txUserRepo auth.UserRepo) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		// No-op if the transaction already committed.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, NewSessionRepository(tx), NewRefreshTokenRepository(tx), NewUserRepository(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
