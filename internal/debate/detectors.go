package debate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dev.helix.agent/internal/models"
)

// metaPhraseWindow and completionPhraseWindow are the sliding-window sizes
// each detector watches: 10 turns for meta-debate, 8 turns for substantive
// completion.
const (
	metaPhraseWindow        = 10
	completionPhraseWindow  = 8
	metaMinPhrasesPerTurn   = 2
	metaMinFlaggedTurns     = 7
	metaMinTotalTurns       = 30
	agreementPhraseThreshold = 6
	repetitionPhraseThreshold = 3
)

var agreementPhrases = []string{
	"i agree", "that's a fair point", "we concur", "consensus", "aligned on",
	"no further objection", "i concede",
}

var repetitionPhrases = []string{
	"as i said", "to reiterate", "as previously stated", "again,",
	"as mentioned before",
}

// contradictionTolerance is the default relative tolerance (10%) beyond
// which two numeric values on the same metric are flagged.
const contradictionTolerance = 0.10

var numberRe = regexp.MustCompile(`-?\d+(\.\d+)?`)

// detectContradictions groups AgentReports by metric name (taken from each
// report's metadata, keyed "metric:<name>" -> numeric value) and emits a
// Contradiction for every pair whose values differ beyond tolerance.
func detectContradictions(reports []models.AgentReport) []models.Contradiction {
	type metricValue struct {
		agentID    string
		value      float64
		confidence float64
		citation   *models.Citation
	}
	byMetric := map[string][]metricValue{}

	for _, r := range reports {
		for key, raw := range r.Metadata {
			const prefix = "metric:"
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			metric := strings.TrimPrefix(key, prefix)
			val, ok := toFloat(raw)
			if !ok {
				continue
			}
			var cite *models.Citation
			if len(r.Citations) > 0 {
				c := r.Citations[0]
				cite = &c
			}
			byMetric[metric] = append(byMetric[metric], metricValue{
				agentID: r.AgentID, value: val, confidence: r.Confidence, citation: cite,
			})
		}
	}

	var contradictions []models.Contradiction
	for metric, values := range byMetric {
		for i := 0; i < len(values); i++ {
			for j := i + 1; j < len(values); j++ {
				a, b := values[i], values[j]
				diff := relativeDifference(a.value, b.value)
				if diff <= contradictionTolerance {
					continue
				}
				contradictions = append(contradictions, models.Contradiction{
					Metric:      metric,
					AgentA:      a.agentID,
					ValueA:      a.value,
					CitationA:   a.citation,
					ConfidenceA: a.confidence,
					AgentB:      b.agentID,
					ValueB:      b.value,
					CitationB:   b.citation,
					ConfidenceB: b.confidence,
					Severity:    severityFor(diff),
				})
			}
		}
	}
	return contradictions
}

func relativeDifference(a, b float64) float64 {
	base := a
	if base == 0 {
		base = b
	}
	if base == 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff / absFloat(base)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func severityFor(relDiff float64) models.Severity {
	switch {
	case relDiff >= 0.50:
		return models.SeverityHigh
	case relDiff >= 0.20:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// resolveContradiction proposes a Resolution based on source rank
// (confidence).
func resolveContradiction(c models.Contradiction) models.Resolution {
	switch {
	case c.ConfidenceA > c.ConfidenceB+0.1:
		return models.Resolution{
			Kind:               models.ResolutionAgentACorrect,
			Explanation:        fmt.Sprintf("%s reports higher-confidence evidence for %s", c.AgentA, c.Metric),
			RecommendedValue:   c.ValueA,
			RecommendedCitation: c.CitationA,
			Confidence:         c.ConfidenceA,
			Action:             models.ActionUseAgentA,
		}
	case c.ConfidenceB > c.ConfidenceA+0.1:
		return models.Resolution{
			Kind:               models.ResolutionAgentBCorrect,
			Explanation:        fmt.Sprintf("%s reports higher-confidence evidence for %s", c.AgentB, c.Metric),
			RecommendedValue:   c.ValueB,
			RecommendedCitation: c.CitationB,
			Confidence:         c.ConfidenceB,
			Action:             models.ActionUseAgentB,
		}
	case c.Severity == models.SeverityLow:
		return models.Resolution{
			Kind:        models.ResolutionBothValid,
			Explanation: fmt.Sprintf("%s and %s differ within a plausible measurement margin on %s", c.AgentA, c.AgentB, c.Metric),
			Confidence:  (c.ConfidenceA + c.ConfidenceB) / 2,
			Action:      models.ActionUseBoth,
		}
	default:
		return models.Resolution{
			Kind:        models.ResolutionNeitherValid,
			Explanation: fmt.Sprintf("%s and %s disagree materially on %s with comparable confidence", c.AgentA, c.AgentB, c.Metric),
			Confidence:  0,
			Action:      models.ActionFlagForReview,
		}
	}
}

// recognizedMetricRanges is the fixed list the data-quality validator
// recognizes.
var recognizedMetricRanges = map[string][2]float64{
	"unemployment rate":   {0, 100},
	"participation rate":  {0, 100},
	"gdp growth":          {-50, 50},
	"inflation":           {-50, 100},
	"fdi share":           {0, 100},
}

// validateDataQuality scans reports' metric metadata for out-of-range
// values and attaches a warning to the offending report.
func validateDataQuality(reports []models.AgentReport) {
	for i := range reports {
		for key, raw := range reports[i].Metadata {
			const prefix = "metric:"
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			metric := strings.TrimPrefix(key, prefix)
			bounds, ok := recognizedMetricRanges[metric]
			if !ok {
				continue
			}
			val, ok := toFloat(raw)
			if !ok {
				continue
			}
			if val < bounds[0] || val > bounds[1] {
				reports[i].Warnings = append(reports[i].Warnings,
					fmt.Sprintf("data-quality: %s value %.2f is out of the recognized range [%.0f, %.0f]", metric, val, bounds[0], bounds[1]))
			}
		}
	}
}

// metaDebateVocabulary is the default ≥21 canonical phrase catalog.
var metaDebateVocabulary = []string{
	"framework", "analytical approach", "epistemically", "epistemic frame",
	"performative contradiction", "meta-level", "discourse itself",
	"nature of the question", "what we mean by", "ontological",
	"first-order vs second-order", "recursive framing", "shape of the argument",
	"methodological stance", "paradigm", "reflexivity", "underlying assumptions",
	"category error", "semantics of", "framing problem", "meta-analysis of the debate",
	"talking past each other",
}

// metaDebateDetector maintains the sliding window of the last 10 turns and
// counts meta-phrase hits per turn.
type metaDebateDetector struct {
	vocabulary   []string
	flaggedTurns []bool // ring of whether each recent turn had >=1 meta phrase
	refocused    bool
}

func newMetaDebateDetector(vocabulary []string) *metaDebateDetector {
	if len(vocabulary) == 0 {
		vocabulary = metaDebateVocabulary
	}
	return &metaDebateDetector{vocabulary: vocabulary}
}

// Observe records one new turn's utterance and reports whether a refocus
// should be injected now.
func (d *metaDebateDetector) Observe(totalTurns int, utterance string) bool {
	if d.refocused {
		return false
	}
	lower := strings.ToLower(utterance)
	hits := 0
	for _, phrase := range d.vocabulary {
		if strings.Contains(lower, phrase) {
			hits++
		}
	}
	d.flaggedTurns = append(d.flaggedTurns, hits >= 1)
	if len(d.flaggedTurns) > metaPhraseWindow {
		d.flaggedTurns = d.flaggedTurns[len(d.flaggedTurns)-metaPhraseWindow:]
	}

	if hits < metaMinPhrasesPerTurn {
		return false
	}
	flaggedInWindow := 0
	for _, f := range d.flaggedTurns {
		if f {
			flaggedInWindow++
		}
	}
	if flaggedInWindow >= metaMinFlaggedTurns && totalTurns >= metaMinTotalTurns {
		d.refocused = true
		return true
	}
	return false
}

// substantiveCompletionDetector maintains the sliding window of the last 8
// turns and counts agreement vs repetition phrases.
type substantiveCompletionDetector struct {
	window []string
}

func (d *substantiveCompletionDetector) Observe(utterance string) bool {
	d.window = append(d.window, strings.ToLower(utterance))
	if len(d.window) > completionPhraseWindow {
		d.window = d.window[len(d.window)-completionPhraseWindow:]
	}

	agreementHits, repetitionHits := 0, 0
	for _, u := range d.window {
		for _, p := range agreementPhrases {
			if strings.Contains(u, p) {
				agreementHits++
			}
		}
		for _, p := range repetitionPhrases {
			if strings.Contains(u, p) {
				repetitionHits++
			}
		}
	}
	return agreementHits >= agreementPhraseThreshold || repetitionHits >= repetitionPhraseThreshold
}

// jaccardSimilarity is the lexical-overlap similarity used for the
// consensus-phase convergence check.
func jaccardSimilarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if f != "" {
			set[f] = true
		}
	}
	return set
}
