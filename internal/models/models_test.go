package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateKeysAccumulatesInOrder(t *testing.T) {
	s := &AnalysisState{Query: Query{ID: "q1", Text: "hi", CreatedAt: time.Now()}}
	assert.Equal(t, []string{"query"}, s.StateKeys())

	s.Classification = &Classification{Intent: IntentPolicy, Complexity: ComplexitySimple}
	assert.Equal(t, []string{"query", "classification"}, s.StateKeys())

	s.Synthesis = &Synthesis{Narrative: "done"}
	keys := s.StateKeys()
	assert.Contains(t, keys, "synthesis")
	assert.Equal(t, "synthesis", keys[len(keys)-1])
}

func TestStateKeysPrefetchCoversErrorsOnly(t *testing.T) {
	s := &AnalysisState{Query: Query{ID: "q1"}}
	s.PrefetchErrors = []string{"source-x timed out"}
	assert.Contains(t, s.StateKeys(), "prefetch")
}
