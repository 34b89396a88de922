// Package postgres provides the PostgreSQL-backed [memory.Store]: the
// exchange journal with a full-text index and the per-identity avatar state.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Archive(ctx, exchange)
//	_ = store.SetAvatarState(ctx, "derf", memory.AvatarTalking)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    unique_id   TEXT         PRIMARY KEY,
    identity    TEXT         NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    author_id   TEXT         NOT NULL DEFAULT '',
    prompt      TEXT         NOT NULL,
    response    TEXT         NOT NULL DEFAULT '',
    summary     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_identity_created
    ON exchanges (identity, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_exchanges_fts
    ON exchanges USING GIN (to_tsvector('english', prompt || ' ' || response));
`

const ddlAvatarState = `
CREATE TABLE IF NOT EXISTS avatar_state (
    identity    TEXT         PRIMARY KEY,
    state       TEXT         NOT NULL CHECK (state IN ('idle', 'thinking', 'talking')),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the tables and indexes if they do not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlExchanges, ddlAvatarState} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
