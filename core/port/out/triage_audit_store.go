package out

import (
	"context"

	"triage_server/core/domain"
)

// AuditStore records analysis outcomes for later review. Optional: a
// nil store means auditing is disabled, and write failures never block
// the pipeline.
type AuditStore interface {
	RecordAnalysis(ctx context.Context, result *domain.AnalysisResult) error
	Ping(ctx context.Context) error
	Close()
}
