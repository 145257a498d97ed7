// Package persistence implements the optional Postgres audit store for
// analysis outcomes. It is config-gated: without DATABASE_URL the
// pipeline runs with auditing disabled.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"triage_server/core/domain"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS analysis_audit (
	analysis_id     TEXT PRIMARY KEY,
	message_id      TEXT NOT NULL,
	is_phishing     BOOLEAN NOT NULL,
	risk_score      DOUBLE PRECISION NOT NULL,
	severity        TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	indicator_count INT NOT NULL,
	has_explanation BOOLEAN NOT NULL,
	analyzed_at     TIMESTAMPTZ NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS analysis_audit_analyzed_at_idx ON analysis_audit (analyzed_at);
`

// AuditStore writes one summary row per analysis.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore connects and ensures the schema exists.
func NewAuditStore(ctx context.Context, databaseURL string) (*AuditStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect audit store: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(initCtx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	return &AuditStore{pool: pool}, nil
}

// RecordAnalysis inserts the summary row. Duplicate analysis ids are
// ignored so retried dispatches stay idempotent.
func (s *AuditStore) RecordAnalysis(ctx context.Context, result *domain.AnalysisResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_audit (
			analysis_id, message_id, is_phishing, risk_score, severity,
			confidence, indicator_count, has_explanation, analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (analysis_id) DO NOTHING`,
		result.AnalysisID,
		result.MessageID,
		result.IsPhishing,
		result.RiskScore,
		string(result.Severity),
		result.Confidence,
		len(result.Indicators),
		result.Explanation != "",
		result.AnalyzedAt,
	)
	return err
}

// Ping checks connectivity for the deep health report.
func (s *AuditStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *AuditStore) Close() {
	s.pool.Close()
}
