package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.agent/internal/models"
)

type stubAgent struct {
	report models.AgentReport
	err    error
	delay  time.Duration
}

func (s stubAgent) Analyze(ctx context.Context, query models.Query, classification models.Classification, prefetch []models.PrefetchFact, retrieval *models.RetrievalContext) (models.AgentReport, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.AgentReport{}, ctx.Err()
		}
	}
	return s.report, s.err
}

func TestRunOrdersReportsByCanonicalID(t *testing.T) {
	agents := map[string]Agent{
		"MacroAgent": stubAgent{report: models.AgentReport{Confidence: 0.8}},
		"RiskAgent":  stubAgent{report: models.AgentReport{Confidence: 0.6}},
	}
	inv := New(agents, DefaultConfig(), nil)
	reports := inv.Run(context.Background(), []string{"RiskAgent", "MacroAgent"}, models.Query{}, models.Classification{}, nil, nil)

	require.Len(t, reports, 2)
	assert.Equal(t, "macroagent", reports[0].AgentID)
	assert.Equal(t, "riskagent", reports[1].AgentID)
}

func TestRunFailingAgentYieldsEmptyReport(t *testing.T) {
	agents := map[string]Agent{
		"BrokenAgent": stubAgent{err: errors.New("api down")},
	}
	inv := New(agents, DefaultConfig(), nil)
	reports := inv.Run(context.Background(), []string{"BrokenAgent"}, models.Query{}, models.Classification{}, nil, nil)

	require.Len(t, reports, 1)
	assert.Equal(t, float64(0), reports[0].Confidence)
	assert.Equal(t, "no result", reports[0].Narrative)
}

func TestRunTimeoutYieldsEmptyReport(t *testing.T) {
	agents := map[string]Agent{
		"SlowAgent": stubAgent{delay: 50 * time.Millisecond, report: models.AgentReport{Confidence: 0.9}},
	}
	cfg := Config{PerAgentTimeout: 5 * time.Millisecond}
	inv := New(agents, cfg, nil)
	reports := inv.Run(context.Background(), []string{"SlowAgent"}, models.Query{}, models.Classification{}, nil, nil)

	require.Len(t, reports, 1)
	assert.Equal(t, float64(0), reports[0].Confidence)
}

func TestRunCaseInsensitiveDuplicateCollapses(t *testing.T) {
	agents := map[string]Agent{
		"MacroAgent": stubAgent{report: models.AgentReport{Confidence: 0.5}},
	}
	inv := New(agents, DefaultConfig(), nil)
	reports := inv.Run(context.Background(), []string{"MacroAgent", "macroagent", "MACROAGENT"}, models.Query{}, models.Classification{}, nil, nil)

	require.Len(t, reports, 1)
	assert.Equal(t, "macroagent", reports[0].AgentID)
}
