package contenttypes

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResolver reads tcc_content_type, registering labels it has not
// seen before.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{pool: pool}
}

func (p *PostgresResolver) Resolve(ctx context.Context, labels []string) (map[string]int64, error) {
	out := make(map[string]int64, len(labels))
	if len(labels) == 0 {
		return out, nil
	}
	apps := make([]string, 0, len(labels))
	models := make([]string, 0, len(labels))
	for _, l := range labels {
		app, model, err := SplitLabel(l)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
		models = append(models, model)
	}

	const register = `
		INSERT INTO tcc_content_type (app_label, model)
		SELECT a, m FROM unnest($1::text[], $2::text[]) AS t(a, m)
		ON CONFLICT (app_label, model) DO NOTHING`
	if _, err := p.pool.Exec(ctx, register, apps, models); err != nil {
		return nil, fmt.Errorf("register content types: %w", err)
	}

	const q = `
		SELECT ct.id, ct.app_label || '.' || ct.model
		FROM tcc_content_type ct
		JOIN unnest($1::text[], $2::text[]) AS t(a, m) ON ct.app_label = t.a AND ct.model = t.m`
	rows, err := p.pool.Query(ctx, q, apps, models)
	if err != nil {
		return nil, fmt.Errorf("query content types: %w", err)
	}
	type row struct {
		ID    int64
		Label string
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, fmt.Errorf("scan content types: %w", err)
	}
	for _, r := range found {
		out[r.Label] = r.ID
	}
	return out, nil
}
