package debate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.agent/internal/models"
)

func TestMetaDebateDetectorRequiresAllThreeConditions(t *testing.T) {
	d := newMetaDebateDetector(nil)

	// Two phrases in one turn, but not enough flagged turns in the window.
	assert.False(t, d.Observe(31, "the framework and the paradigm matter here"))

	// Build up seven flagged turns in the window, single phrase each: no
	// fire because the triggering turn needs two phrases.
	d = newMetaDebateDetector(nil)
	for i := 0; i < 7; i++ {
		assert.False(t, d.Observe(31+i, "let's revisit the framework"))
	}

	// Now a two-phrase turn with enough flagged history and turn count.
	assert.True(t, d.Observe(40, "epistemically, the framework itself is the issue"))
}

func TestMetaDebateDetectorNeverFiresBeforeTurnThirty(t *testing.T) {
	d := newMetaDebateDetector(nil)
	for i := 0; i < 10; i++ {
		assert.False(t, d.Observe(i+1, "the framework and the paradigm and the ontological stance"))
	}
}

func TestMetaDebateDetectorFiresAtMostOnce(t *testing.T) {
	d := newMetaDebateDetector(nil)
	fired := 0
	for i := 0; i < 40; i++ {
		if d.Observe(31+i, "epistemically, the framework and paradigm collapse") {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}

func TestSubstantiveCompletionOnAgreement(t *testing.T) {
	d := &substantiveCompletionDetector{}
	ended := false
	for i := 0; i < 8 && !ended; i++ {
		ended = d.Observe("i agree with that assessment, consensus is close")
	}
	assert.True(t, ended)
}

func TestSubstantiveCompletionIgnoresSubstantiveTurns(t *testing.T) {
	d := &substantiveCompletionDetector{}
	for i := 0; i < 8; i++ {
		assert.False(t, d.Observe(fmt.Sprintf("the unemployment rate moved to %d.%d percent", i, i)))
	}
}

// End-to-end: a debate dominated by meta-debate language gets exactly one
// moderator refocus utterance, injected after turn 30, and still
// terminates within the budget.
func TestRunInjectsSingleRefocusOnMetaDebateSpiral(t *testing.T) {
	o := New(DefaultConfig(), nil)

	// A dozen participants: each phase round-robins everyone once, so the
	// turn count passes 30 during edge-case probing.
	var reports []models.AgentReport
	speakers := map[string]Speaker{}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("agent%02d", i)
		reports = append(reports, models.AgentReport{AgentID: id, Narrative: "position " + id, Confidence: 0.6})
		speakers[id] = SpeakerFunc(func(ctx context.Context, phase models.PhaseTag, query models.Query, report models.AgentReport, prior []models.DebateTurn) (string, error) {
			return fmt.Sprintf("%s: epistemically, the framework and the analytical approach are what we should examine (turn %d)", report.AgentID, len(prior)), nil
		})
	}

	classification := models.Classification{Intent: models.IntentPolicy, Complexity: models.ComplexityComplex}
	query := models.Query{ID: "q1", Text: "Discuss epistemic frameworks for analyzing industrial policy"}

	results := o.Run(context.Background(), reports, classification, query, speakers, nil)
	require.NotNil(t, results)

	refocusTurns := 0
	var refocusIndex int
	for _, turn := range results.TurnLog {
		if turn.SpeakerID == "moderator" && strings.Contains(turn.Utterance, "refocus") {
			refocusTurns++
			refocusIndex = turn.Index
		}
	}
	assert.Equal(t, 1, refocusTurns)
	assert.GreaterOrEqual(t, refocusIndex, 30)
	assert.Contains(t, results.TurnLog[refocusIndex].Utterance, query.Text)
	assert.LessOrEqual(t, len(results.TurnLog), 125, "synthesis and refocus turns count against the budget")
}
