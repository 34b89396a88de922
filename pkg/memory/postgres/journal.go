package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/derfbot/pkg/memory"
)

const exchangeColumns = "unique_id, identity, source, author_id, prompt, response, summary, created_at"

// Archive implements [memory.Journal]. A zero CreatedAt is stored as now.
func (s *Store) Archive(ctx context.Context, e memory.Exchange) error {
	const q = `
		INSERT INTO exchanges (` + exchangeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (unique_id) DO NOTHING`

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		e.UniqueID,
		e.Identity,
		string(e.Source),
		e.AuthorID,
		e.Prompt,
		e.Response,
		e.Summary,
		created,
	)
	if err != nil {
		return fmt.Errorf("journal: archive %s: %w", e.UniqueID, err)
	}
	return nil
}

// Recent implements [memory.Journal]. A non-positive limit returns every
// exchange of identity.
func (s *Store) Recent(ctx context.Context, identity string, limit int) ([]memory.Exchange, error) {
	q := "SELECT " + exchangeColumns + "\n" +
		"FROM   exchanges\n" +
		"WHERE  identity = $1\n" +
		"ORDER  BY created_at DESC"
	args := []any{identity}
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return collectExchanges(rows)
}

// Search implements [memory.Journal] with a PostgreSQL full-text search over
// prompt and response. An empty query matches every exchange.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Exchange, error) {
	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if strings.TrimSpace(query) != "" {
		conditions = append(conditions,
			"to_tsvector('english', prompt || ' ' || response) @@ plainto_tsquery('english', "+next(query)+")")
	}
	if opts.Identity != "" {
		conditions = append(conditions, "identity = "+next(opts.Identity))
	}
	if opts.AuthorID != "" {
		conditions = append(conditions, "author_id = "+next(opts.AuthorID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(opts.Before))
	}

	q := "SELECT " + exchangeColumns + "\nFROM   exchanges"
	if len(conditions) > 0 {
		q += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	q += "\nORDER  BY created_at"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: search: %w", err)
	}
	return collectExchanges(rows)
}

func collectExchanges(rows pgx.Rows) ([]memory.Exchange, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Exchange, error) {
		var (
			e      memory.Exchange
			source string
		)
		if err := row.Scan(
			&e.UniqueID,
			&e.Identity,
			&source,
			&e.AuthorID,
			&e.Prompt,
			&e.Response,
			&e.Summary,
			&e.CreatedAt,
		); err != nil {
			return memory.Exchange{}, err
		}
		e.Source = memory.Source(source)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	if out == nil {
		out = []memory.Exchange{}
	}
	return out, nil
}

// SetAvatarState implements [memory.AvatarStore].
func (s *Store) SetAvatarState(ctx context.Context, identity string, state memory.AvatarState) error {
	if _, err := memory.ParseAvatarState(string(state)); err != nil {
		return err
	}
	const q = `
		INSERT INTO avatar_state (identity, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (identity) DO UPDATE
		    SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, q, identity, string(state)); err != nil {
		return fmt.Errorf("avatar state: set %s: %w", identity, err)
	}
	return nil
}

// AvatarState implements [memory.AvatarStore].
func (s *Store) AvatarState(ctx context.Context, identity string) (memory.AvatarState, error) {
	var state string
	err := s.pool.QueryRow(ctx, "SELECT state FROM avatar_state WHERE identity = $1", identity).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.AvatarIdle, nil
	}
	if err != nil {
		return "", fmt.Errorf("avatar state: get %s: %w", identity, err)
	}
	return memory.AvatarState(state), nil
}
