package synthesizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.agent/internal/embedder"
	"dev.helix.agent/internal/models"
)

type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func newService(t *testing.T, e stubEmbedder) *embedder.Service {
	t.Helper()
	svc := embedder.NewService(func() (embedder.Embedder, error) { return e, nil })
	require.NoError(t, svc.Warm())
	return svc
}

func TestRunWithNoReportsProducesEmptySynthesis(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	result := s.Run(context.Background(), nil, nil, nil, nil)

	require.NotNil(t, result)
	assert.Equal(t, float64(0), result.Confidence)
}

func TestRunClustersIdenticalRecommendationsTogether(t *testing.T) {
	e := stubEmbedder{vectors: map[string][]float64{
		"cut rates": {1, 0, 0},
		"hold rates": {1, 0, 0},
	}}
	svc := newService(t, e)
	s := New(DefaultConfig(), svc, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Narrative: "cut rates", Confidence: 0.8},
		{AgentID: "agent-b", Narrative: "hold rates", Confidence: 0.8},
	}
	result := s.Run(context.Background(), reports, nil, nil, nil)

	require.NotNil(t, result)
	require.Len(t, result.Clusters, 1)
	assert.Len(t, result.Clusters[0].MemberIDs, 2)
	assert.False(t, result.DegradedClustering)
}

func TestRunSeparatesDissimilarRecommendations(t *testing.T) {
	e := stubEmbedder{vectors: map[string][]float64{
		"raise rates immediately": {1, 0, 0},
		"cut rates aggressively":  {0, 1, 0},
	}}
	svc := newService(t, e)
	s := New(DefaultConfig(), svc, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Narrative: "raise rates immediately", Confidence: 0.8},
		{AgentID: "agent-b", Narrative: "cut rates aggressively", Confidence: 0.8},
	}
	result := s.Run(context.Background(), reports, nil, nil, nil)

	require.NotNil(t, result)
	assert.Len(t, result.Clusters, 2)
}

func TestRunFallsBackToLexicalClusteringOnEmbedderFailure(t *testing.T) {
	e := stubEmbedder{err: errors.New("embedder offline")}
	svc := newService(t, e)
	s := New(DefaultConfig(), svc, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Narrative: "inflation is cooling down this quarter", Confidence: 0.8},
		{AgentID: "agent-b", Narrative: "inflation is cooling down this quarter", Confidence: 0.7},
	}
	result := s.Run(context.Background(), reports, nil, nil, nil)

	require.NotNil(t, result)
	assert.True(t, result.DegradedClustering)
	assert.Contains(t, result.DegradedStages, "synthesizer:clustering")
	require.Len(t, result.Clusters, 1)
}

func TestRunWithNilEmbedderServiceDegrades(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Narrative: "steady growth expected", Confidence: 0.8},
	}
	result := s.Run(context.Background(), reports, nil, nil, nil)

	require.NotNil(t, result)
	assert.True(t, result.DegradedClustering)
}

func TestRunSurfacesUnresolvedContradictionsAndVerifierIssues(t *testing.T) {
	e := stubEmbedder{}
	svc := newService(t, e)
	s := New(DefaultConfig(), svc, nil)
	reports := []models.AgentReport{
		{AgentID: "agent-a", Narrative: "stable outlook", Confidence: 0.9},
	}
	debateResults := &models.DebateResults{
		Resolutions: []models.Resolution{
			{Action: models.ActionFlagForReview, Explanation: "agents disagree materially on inflation"},
		},
	}
	verification := &models.VerificationResults{
		Counts:     map[models.VerificationCategory]int{models.CategoryNumericFabrication: 1},
		Violations: []models.Violation{{Category: models.CategoryNumericFabrication, AgentID: "agent-a", Detail: "42 has no backing"}},
	}
	result := s.Run(context.Background(), reports, debateResults, nil, verification)

	require.NotNil(t, result)
	require.Len(t, result.UnresolvedFlags, 1)
	require.Len(t, result.UnbackedNumbers, 1)
	assert.Contains(t, result.Narrative, "Unresolved disagreements")
}

func TestConfidenceScorePenalizedByHighSeverityContradictions(t *testing.T) {
	reports := []models.AgentReport{{AgentID: "a", Confidence: 0.9}, {AgentID: "b", Confidence: 0.9}}
	noContradictions := confidenceScore(reports, nil, nil, nil)
	withContradictions := confidenceScore(reports, nil, nil, &models.DebateResults{
		Contradictions: []models.Contradiction{{Severity: models.SeverityHigh}, {Severity: models.SeverityHigh}},
	})
	assert.Less(t, withContradictions, noContradictions)
}

func TestConfidenceScoreWeightsByClusterSize(t *testing.T) {
	// Three agents agree at 0.9, one dissents at 0.1. Weighting by cluster
	// size pulls the score toward the majority position.
	reports := []models.AgentReport{
		{AgentID: "a", Confidence: 0.9},
		{AgentID: "b", Confidence: 0.9},
		{AgentID: "c", Confidence: 0.9},
		{AgentID: "d", Confidence: 0.1},
	}
	clusters := []models.Cluster{
		{ID: "cluster-0", RepresentativeID: "a"},
		{ID: "cluster-1", RepresentativeID: "d"},
	}
	members := map[string][]string{
		"cluster-0": {"a", "b", "c"},
		"cluster-1": {"d"},
	}
	weightedScore := confidenceScore(reports, clusters, members, nil)
	flatScore := confidenceScore(reports, nil, nil, nil)
	assert.Greater(t, weightedScore, flatScore)
	assert.InDelta(t, (0.9*3*3+0.1*1)/(3*3+1), weightedScore, 1e-9)
}
