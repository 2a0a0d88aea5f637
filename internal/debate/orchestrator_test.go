package debate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.agent/internal/models"
)

func reportsFor(ids ...string) []models.AgentReport {
	reports := make([]models.AgentReport, 0, len(ids))
	for _, id := range ids {
		reports = append(reports, models.AgentReport{
			AgentID:    id,
			Narrative:  fmt.Sprintf("%s's assessment of the situation", id),
			Confidence: 0.7,
			Findings:   []models.Finding{{Text: "the metric trend is upward", Confidence: 0.7}},
		})
	}
	return reports
}

func TestRunWithNoReportsReturnsBudgetExhausted(t *testing.T) {
	o := New(DefaultConfig(), nil)
	results := o.Run(context.Background(), nil, models.Classification{Complexity: models.ComplexityStandard}, models.Query{}, nil, nil)

	require.NotNil(t, results)
	assert.Equal(t, "no agent produced a result", results.ConsensusNarrative)
	assert.Equal(t, models.ReasonBudgetExhausted, results.CompletionReason)
	assert.True(t, results.PhaseComplete[models.PhaseSynthesis])
}

func TestRunCompletesAllSixPhasesWhenBudgetAllows(t *testing.T) {
	o := New(DefaultConfig(), nil)
	reports := reportsFor("agent-a", "agent-b")
	results := o.Run(context.Background(), reports, models.Classification{Complexity: models.ComplexityStandard}, models.Query{Text: "what is the outlook?"}, nil, nil)

	require.NotNil(t, results)
	for _, phase := range []models.PhaseTag{
		models.PhaseOpeningStatements,
		models.PhaseCrossExamination,
		models.PhaseEdgeCaseProbing,
		models.PhaseRiskAnalysis,
		models.PhaseConsensusAttempt,
		models.PhaseSynthesis,
	} {
		assert.True(t, results.PhaseComplete[phase], "expected phase %s to be marked complete", phase)
	}

	// Turns must appear in strictly increasing phase order (no phase's
	// turns are interleaved with an earlier phase's turns).
	seenPhases := map[models.PhaseTag]bool{}
	lastPhaseOrdinal := -1
	phaseOrder := map[models.PhaseTag]int{
		models.PhaseOpeningStatements: 0,
		models.PhaseCrossExamination:  1,
		models.PhaseEdgeCaseProbing:   2,
		models.PhaseRiskAnalysis:      3,
		models.PhaseConsensusAttempt:  4,
		models.PhaseSynthesis:         5,
	}
	for _, turn := range results.TurnLog {
		ordinal, ok := phaseOrder[turn.Phase]
		require.True(t, ok)
		assert.GreaterOrEqual(t, ordinal, lastPhaseOrdinal)
		lastPhaseOrdinal = ordinal
		seenPhases[turn.Phase] = true
	}
}

func TestRunRespectsMaxTotalTurnsForSimpleComplexity(t *testing.T) {
	o := New(DefaultConfig(), nil)
	reports := reportsFor("agent-a", "agent-b", "agent-c", "agent-d", "agent-e")
	results := o.Run(context.Background(), reports, models.Classification{Complexity: models.ComplexitySimple}, models.Query{Text: "simple question"}, nil, nil)

	require.NotNil(t, results)
	// The synthesis turn draws from a reserved slot, so even a
	// budget-exhausted run stays within the simple profile's 15 turns.
	assert.LessOrEqual(t, len(results.TurnLog), 15)
}

func TestRunDetectsContradictionsAcrossReports(t *testing.T) {
	o := New(DefaultConfig(), nil)
	reports := []models.AgentReport{
		{
			AgentID:    "agent-a",
			Narrative:  "unemployment is stable",
			Confidence: 0.9,
			Metadata:   map[string]any{"metric:unemployment rate": 5.0},
		},
		{
			AgentID:    "agent-b",
			Narrative:  "unemployment is rising sharply",
			Confidence: 0.4,
			Metadata:   map[string]any{"metric:unemployment rate": 9.0},
		},
	}
	results := o.Run(context.Background(), reports, models.Classification{Complexity: models.ComplexityStandard}, models.Query{Text: "what is unemployment?"}, nil, nil)

	require.NotNil(t, results)
	require.Len(t, results.Contradictions, 1)
	assert.Equal(t, "unemployment rate", results.Contradictions[0].Metric)
	require.Len(t, results.Resolutions, 1)
	assert.Equal(t, models.ResolutionAgentACorrect, results.Resolutions[0].Kind)
}

func TestRunSingleMetricReportProducesNoContradiction(t *testing.T) {
	o := New(DefaultConfig(), nil)
	reports := reportsFor("agent-a")
	results := o.Run(context.Background(), reports, models.Classification{Complexity: models.ComplexitySimple}, models.Query{Text: "solo question"}, nil, nil)

	require.NotNil(t, results)
	assert.Empty(t, results.Contradictions)
}

func TestRunConsensusConvergenceEndsDebateEarly(t *testing.T) {
	o := New(DefaultConfig(), nil)
	// Convergence needs two consecutive consensus turns above the threshold,
	// so three agents repeat the same statement.
	reports := reportsFor("agent-a", "agent-b", "agent-c")
	identical := "we are fully aligned on the baseline forecast and see no material disagreement"
	speakers := map[string]Speaker{
		"agent-a": SpeakerFunc(func(ctx context.Context, phase models.PhaseTag, query models.Query, report models.AgentReport, priorTurns []models.DebateTurn) (string, error) {
			if phase == models.PhaseConsensusAttempt {
				return identical, nil
			}
			return "agent-a: opening", nil
		}),
		"agent-b": SpeakerFunc(func(ctx context.Context, phase models.PhaseTag, query models.Query, report models.AgentReport, priorTurns []models.DebateTurn) (string, error) {
			if phase == models.PhaseConsensusAttempt {
				return identical, nil
			}
			return "agent-b: opening", nil
		}),
		"agent-c": SpeakerFunc(func(ctx context.Context, phase models.PhaseTag, query models.Query, report models.AgentReport, priorTurns []models.DebateTurn) (string, error) {
			if phase == models.PhaseConsensusAttempt {
				return identical, nil
			}
			return "agent-c: opening", nil
		}),
	}
	results := o.Run(context.Background(), reports, models.Classification{Complexity: models.ComplexityStandard}, models.Query{Text: "converge?"}, speakers, nil)

	require.NotNil(t, results)
	assert.Equal(t, models.ReasonConverged, results.CompletionReason)
}

func TestRunAlwaysEmitsSynthesisTurnLast(t *testing.T) {
	o := New(DefaultConfig(), nil)
	reports := reportsFor("agent-a", "agent-b")
	results := o.Run(context.Background(), reports, models.Classification{Complexity: models.ComplexitySimple}, models.Query{Text: "q"}, nil, nil)

	require.NotNil(t, results)
	require.NotEmpty(t, results.TurnLog)
	last := results.TurnLog[len(results.TurnLog)-1]
	assert.Equal(t, models.PhaseSynthesis, last.Phase)
	assert.Equal(t, "moderator", last.SpeakerID)
}
