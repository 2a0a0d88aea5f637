// Package classifier turns a natural-language question into a
// Classification: intent, complexity, confidence, and extracted entities.
// It is deterministic and local; it makes no external calls.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"dev.helix.agent/internal/models"
)

const minimumConfidence = 0.55

type intentEntry struct {
	intent            models.Intent
	keywords          []string
	complexityFloor   models.Complexity
}

var intentCatalog = []intentEntry{
	{models.IntentForecast, []string{"forecast", "projection", "will it", "outlook", "expected to"}, models.ComplexityStandard},
	{models.IntentComparison, []string{"compare", "versus", "vs", "difference between", "relative to"}, models.ComplexityStandard},
	{models.IntentTrend, []string{"trend", "over time", "historical", "since 20", "trajectory"}, models.ComplexityStandard},
	{models.IntentDiagnostic, []string{"why", "root cause", "what caused", "diagnose"}, models.ComplexityStandard},
	{models.IntentPolicy, []string{"should", "invest", "policy", "strategy", "recommend"}, models.ComplexityStandard},
}

var sectorLexicon = []string{
	"food", "agriculture", "energy", "oil", "gas", "finance", "banking",
	"tourism", "manufacturing", "technology", "healthcare", "education",
	"logistics", "real estate", "construction",
}

var metricLexicon = []string{
	"unemployment rate", "unemployment", "gdp growth", "gdp", "inflation",
	"participation rate", "fdi share", "fdi", "exports", "imports",
	"self-sufficiency", "food self-sufficiency",
}

var countryLexicon = []string{
	"qatar", "saudi arabia", "uae", "united arab emirates", "bahrain",
	"kuwait", "oman", "gcc",
}

var horizonRe = regexp.MustCompile(`(?i)by\s+20\d{2}|\bnext\s+(\d+)\s+years?\b|\b(\d+)[-\s]year\b|\b20[3-9]\d\b`)

var strategicKeywordRe = regexp.MustCompile(`(?i)\$\s?\d+(\.\d+)?\s?(b|billion|m|million)|national strategy|five[- ]year plan|multi-year|decade-long|long-term national`)

// lookupRe matches the opening of a short factual lookup ("What is...",
// "How many..."). Such questions carry real signal even when no intent
// keyword fires, so they get a baseline confidence instead of the
// low-confidence downgrade.
var lookupRe = regexp.MustCompile(`^(what|what's|how much|how many|when|where|which|who)\b`)

const lookupBaselineConfidence = 0.60

const lookupMaxWords = 8

// Classify assigns a Classification to question, applying the minimum-
// confidence downgrade and the strategic-keyword override.
func Classify(question string) models.Classification {
	lower := strings.ToLower(question)

	intent, score := bestIntent(lower)
	entities := extractEntities(lower)
	complexity := baseComplexity(intent, score)

	if score == 0 && lookupRe.MatchString(lower) && len(strings.Fields(lower)) <= lookupMaxWords {
		score = lookupBaselineConfidence
	}

	horizonComplex := horizonImpliesComplex(lower)
	strategicOverride := strategicKeywordRe.MatchString(lower)
	entityMultiplicity := totalEntities(entities) >= 4

	if horizonComplex || entityMultiplicity {
		complexity = maxComplexity(complexity, models.ComplexityStandard)
	}
	if strategicOverride {
		complexity = models.ComplexityComplex
	}

	confidence := score
	if confidence < minimumConfidence {
		intent = models.IntentGeneric
		complexity = models.ComplexityStandard
		confidence = minimumConfidence
	}
	if strategicOverride {
		confidence = max64(confidence, minimumConfidence)
	}

	routing := models.RoutingLLMAgents
	if complexity == models.ComplexitySimple && totalEntities(entities) == 0 {
		routing = models.RoutingDeterministicOnly
	}

	return models.Classification{
		Intent:     intent,
		Complexity: complexity,
		Confidence: confidence,
		Entities:   entities,
		Routing:    routing,
	}
}

func bestIntent(lower string) (models.Intent, float64) {
	bestScore := 0.0
	best := models.IntentGeneric
	for _, entry := range intentCatalog {
		hits := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(entry.keywords))
		// A single strong keyword hit is still meaningful signal.
		score = 0.5 + score*0.5
		if score > bestScore {
			bestScore = score
			best = entry.intent
		}
	}
	return best, bestScore
}

func baseComplexity(intent models.Intent, score float64) models.Complexity {
	for _, entry := range intentCatalog {
		if entry.intent == intent {
			if score >= 0.9 {
				return maxComplexity(entry.complexityFloor, models.ComplexityComplex)
			}
			return entry.complexityFloor
		}
	}
	return models.ComplexitySimple
}

func extractEntities(lower string) map[string][]string {
	entities := map[string][]string{}
	addMatches(entities, "sector", lower, sectorLexicon)
	addMatches(entities, "metric", lower, metricLexicon)
	addMatches(entities, "country", lower, countryLexicon)

	if loc := horizonRe.FindString(lower); loc != "" {
		entities["time-window"] = append(entities["time-window"], strings.TrimSpace(loc))
	}
	return entities
}

func addMatches(entities map[string][]string, kind, lower string, lexicon []string) {
	seen := map[string]bool{}
	for _, term := range lexicon {
		if strings.Contains(lower, term) {
			norm := normalize(term)
			if !seen[norm] {
				entities[kind] = append(entities[kind], norm)
				seen[norm] = true
			}
		}
	}
	if vals, ok := entities[kind]; ok {
		sort.Strings(vals)
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func totalEntities(entities map[string][]string) int {
	n := 0
	for _, v := range entities {
		n += len(v)
	}
	return n
}

func horizonImpliesComplex(lower string) bool {
	m := horizonRe.FindString(lower)
	return m != ""
}

func maxComplexity(a, b models.Complexity) models.Complexity {
	rank := map[models.Complexity]int{
		models.ComplexitySimple:   0,
		models.ComplexityStandard: 1,
		models.ComplexityComplex:  2,
	}
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
