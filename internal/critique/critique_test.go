package critique

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.agent/internal/models"
)

func TestRunFlagsLowConfidenceReportWithoutCitation(t *testing.T) {
	c := New(nil, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Confidence: 0.9, Findings: []models.Finding{{Text: "x"}}, Citations: []models.Citation{{SourceID: "s1"}}},
		{AgentID: "agent-b", Confidence: 0.4, Findings: []models.Finding{{Text: "y"}}},
	}
	results := c.Run(context.Background(), reports, "broad agreement on stability")

	require.NotNil(t, results)
	require.Len(t, results.Items, 1)
	assert.Equal(t, "agent-b", results.Items[0].AgentID)
	assert.Contains(t, results.Items[0].Weakness, "confidence")
}

func TestRunWithNoWeaknessesProducesEmptyCritique(t *testing.T) {
	c := New(nil, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Confidence: 0.9, Citations: []models.Citation{{SourceID: "s1"}}},
	}
	results := c.Run(context.Background(), reports, "")

	require.NotNil(t, results)
	assert.Empty(t, results.Items)
	assert.Equal(t, "no material weaknesses found across the panel", results.OverallAssessment)
}

func TestRunReviewerFailureIsNonFatal(t *testing.T) {
	failing := ReviewerFunc(func(ctx context.Context, report models.AgentReport, allReports []models.AgentReport, consensusNarrative string) (*models.CritiqueItem, error) {
		return nil, errors.New("reviewer backend unavailable")
	})
	c := New(failing, nil)
	reports := []models.AgentReport{{AgentID: "agent-a", Confidence: 0.9}}
	results := c.Run(context.Background(), reports, "")

	require.NotNil(t, results)
	assert.Empty(t, results.Items)
}

func TestRunFlagsOutlierAgentAmongLargerPanel(t *testing.T) {
	c := New(nil, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Confidence: 0.9, Citations: []models.Citation{{SourceID: "s1"}}},
		{AgentID: "agent-b", Confidence: 0.88, Citations: []models.Citation{{SourceID: "s2"}}},
		{AgentID: "agent-c", Confidence: 0.85, Citations: []models.Citation{{SourceID: "s3"}}},
		{AgentID: "agent-d", Confidence: 0.2, Citations: []models.Citation{{SourceID: "s4"}}},
	}
	results := c.Run(context.Background(), reports, "")

	require.NotNil(t, results)
	found := false
	for _, item := range results.Items {
		if item.AgentID == "agent-d" {
			found = true
			assert.Equal(t, models.SeverityHigh, item.Severity)
		}
	}
	assert.True(t, found, "expected agent-d to be flagged as an outlier")
}

func TestItemsSortedByAgentID(t *testing.T) {
	c := New(nil, nil)
	reports := []models.AgentReport{
		{AgentID: "zeta", Confidence: 0.1},
		{AgentID: "alpha", Confidence: 0.1},
	}
	results := c.Run(context.Background(), reports, "")

	require.Len(t, results.Items, 2)
	assert.Equal(t, "alpha", results.Items[0].AgentID)
	assert.Equal(t, "zeta", results.Items[1].AgentID)
}
