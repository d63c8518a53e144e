package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores plan documents in a single table, schema created lazily on
// first use.
type Postgres struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS meal_plans (
  id SERIAL PRIMARY KEY,
  user_key TEXT NOT NULL,
  doc JSONB NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_meal_plans_user_key ON meal_plans (user_key, created_at DESC);
`)
	})
	return s.schemaErr
}

func (s *Postgres) SavePlan(ctx context.Context, userKey string, doc []byte) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meal_plans (user_key, doc) VALUES ($1, $2)`,
		strings.TrimSpace(userKey), doc)
	return err
}

func (s *Postgres) GetPlan(ctx context.Context, userKey string) (PlanRecord, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return PlanRecord{}, false, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT user_key, doc, created_at FROM meal_plans
WHERE user_key = $1 ORDER BY created_at DESC LIMIT 1`,
		strings.TrimSpace(userKey))
	var rec PlanRecord
	if err := row.Scan(&rec.UserKey, &rec.Doc, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return PlanRecord{}, false, nil
		}
		return PlanRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Postgres) ListPlans(ctx context.Context, userKey string, limit int) ([]PlanRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMaxPlansPerUser
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_key, doc, created_at FROM meal_plans
WHERE user_key = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.TrimSpace(userKey), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		var rec PlanRecord
		if err := rows.Scan(&rec.UserKey, &rec.Doc, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error { return s.db.Close() }
