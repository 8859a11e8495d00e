package storage

import (
	"context"
	"fmt"

	"calmmap/internal/domain/accesscontrol"
	"calmmap/internal/domain/pushtokens"
	"calmmap/internal/domain/reports"
	"calmmap/internal/domain/reviews"
	"calmmap/internal/domain/submissions"
	"calmmap/internal/domain/venues"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx is a tx-scoped set of repos. Everything written through it commits or
// rolls back together.
type Tx struct {
	Venues        venues.Store
	Submissions   submissions.Store
	Reviews       reviews.Store
	Reports       reports.Store
	AccessControl accesscontrol.Store
}

// UnitOfWork runs fn atomically. fn's error aborts the unit and is returned
// unchanged.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(tx *Tx) error) error
}

type Container struct {
	pool          *pgxpool.Pool
	Venues        venues.Store
	Submissions   submissions.Store
	Reviews       reviews.Store
	Reports       reports.Store
	AccessControl accesscontrol.Store
	PushTokens    pushtokens.Store
}

func NewContainer(db *pgxpool.Pool) *Container {
	return &Container{
		pool:          db,
		Venues:        venues.NewRepository(db),
		Submissions:   submissions.NewRepository(db),
		Reviews:       reviews.NewRepository(db),
		Reports:       reports.NewRepository(db),
		AccessControl: accesscontrol.NewRepository(db),
		PushTokens:    pushtokens.NewRepository(db),
	}
}

func (c *Container) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	if c.pool == nil {
		return fmt.Errorf("storage container pool is nil (did you forget to set pool in NewContainer?)")
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	if err := fn(&Tx{
		Venues:        venues.NewRepository(tx),
		Submissions:   submissions.NewRepository(tx),
		Reviews:       reviews.NewRepository(tx),
		Reports:       reports.NewRepository(tx),
		AccessControl: accesscontrol.NewRepository(tx),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
