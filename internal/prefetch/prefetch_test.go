package prefetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.agent/internal/models"
)

type stubSource struct {
	id      string
	raw     string
	fetchErr error
}

func (s *stubSource) ID() string { return s.id }

func (s *stubSource) Fetch(ctx context.Context, entityKind, entityValue string) (string, error) {
	if s.fetchErr != nil {
		return "", s.fetchErr
	}
	return s.raw, nil
}

func simpleExtractor(sourceID, entityKind, entityValue, raw string) []models.PrefetchFact {
	if raw == "" {
		return nil
	}
	return []models.PrefetchFact{{
		Metric:     entityValue + " " + entityKind,
		Value:      raw,
		SourceID:   sourceID,
		Confidence: 0.9,
		RawSnippet: raw,
	}}
}

func TestRunExtractsFactsOrderedBySource(t *testing.T) {
	plan := Plan{
		{Intent: models.IntentPolicy, EntityKind: "country", Sources: []Source{
			&stubSource{id: "labor-api", raw: "5.1"},
			&stubSource{id: "econ-api", raw: "3.2"},
		}},
	}
	f := New(plan, simpleExtractor, DefaultConfig(), nil, nil)
	classification := models.Classification{
		Intent:   models.IntentPolicy,
		Entities: map[string][]string{"country": {"qatar"}},
	}

	facts, errs := f.Run(context.Background(), classification)
	require.Empty(t, errs)
	require.Len(t, facts, 2)
	assert.Equal(t, "econ-api", facts[0].SourceID)
	assert.Equal(t, "labor-api", facts[1].SourceID)
}

func TestRunTreatsPartialSourceFailureAsNonFatal(t *testing.T) {
	plan := Plan{
		{Intent: models.IntentPolicy, EntityKind: "country", Sources: []Source{
			&stubSource{id: "labor-api", raw: "5.1"},
			&stubSource{id: "broken-api", fetchErr: errors.New("500")},
		}},
	}
	f := New(plan, simpleExtractor, DefaultConfig(), nil, nil)
	classification := models.Classification{
		Intent:   models.IntentPolicy,
		Entities: map[string][]string{"country": {"qatar"}},
	}

	facts, errs := f.Run(context.Background(), classification)
	require.Len(t, facts, 1)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "broken-api")
}

func TestRunWithNoPlannedSourcesReturnsEmpty(t *testing.T) {
	f := New(nil, simpleExtractor, DefaultConfig(), nil, nil)
	facts, errs := f.Run(context.Background(), models.Classification{Intent: models.IntentTrend})
	assert.Nil(t, facts)
	assert.Nil(t, errs)
}
