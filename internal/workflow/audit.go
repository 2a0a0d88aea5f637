package workflow

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dev.helix.agent/internal/models"
)

// RunSummary is the per-request row appended to the audit sink after the
// terminal event: ids, timings, and completion shape only, never the full
// AnalysisState.
type RunSummary struct {
	RequestID        string
	Question         string
	Intent           string
	Complexity       string
	AgentCount       int
	DebateTurns      int
	Contradictions   int
	CompletionReason string
	DegradedStages   []string
	Elapsed          time.Duration
}

// AuditSink records completed runs for operational review. Recording is
// fire-and-forget and never sits on the request's critical path.
type AuditSink interface {
	Record(ctx context.Context, summary RunSummary) error
}

// PostgresAudit appends RunSummaries to the analysis_audit table.
type PostgresAudit struct {
	pool *pgxpool.Pool
}

func NewPostgresAudit(pool *pgxpool.Pool) *PostgresAudit {
	return &PostgresAudit{pool: pool}
}

func (a *PostgresAudit) Record(ctx context.Context, s RunSummary) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO analysis_audit
			(request_id, question, intent, complexity, agent_count,
			 debate_turns, contradictions, completion_reason,
			 degraded_stages, elapsed_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		s.RequestID, s.Question, s.Intent, s.Complexity, s.AgentCount,
		s.DebateTurns, s.Contradictions, s.CompletionReason,
		s.DegradedStages, s.Elapsed.Milliseconds(),
	)
	return err
}

func summarize(state *models.AnalysisState, elapsed time.Duration) RunSummary {
	s := RunSummary{
		RequestID:      state.Query.ID,
		Question:       state.Query.Text,
		AgentCount:     len(state.AgentReports),
		DegradedStages: append([]string(nil), state.DegradedStages...),
		Elapsed:        elapsed,
	}
	if state.Classification != nil {
		s.Intent = string(state.Classification.Intent)
		s.Complexity = string(state.Classification.Complexity)
	}
	if state.DebateResults != nil {
		s.DebateTurns = len(state.DebateResults.TurnLog)
		s.Contradictions = len(state.DebateResults.Contradictions)
		s.CompletionReason = string(state.DebateResults.CompletionReason)
	}
	return s
}
