// Package verifier implements three structural checks over reports:
// citation coverage, numeric-fabrication, and freshness. The stage never
// fails the request; every finding becomes a Violation that flows into the
// Synthesizer as a warning.
package verifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dev.helix.agent/internal/clock"
	"dev.helix.agent/internal/models"
)

// numberRe matches a quantitative token: an optional sign, digits, and an
// optional decimal part.
var numberRe = regexp.MustCompile(`-?\d+(\.\d+)?`)

// yearRe matches a bare four-digit year, used as the freshness check's
// heuristic for "a claim references a date".
var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// citationWindow is the total span, in bytes, searched around a numeric
// token for a supporting citation's quoted text or source id.
const citationWindow = 40

// DefaultFreshnessHorizons returns the stock per-topic horizons (months).
func DefaultFreshnessHorizons() map[string]int {
	return map[string]int{
		"macroeconomic": 24,
		"labor":         12,
		"news":          3,
	}
}

// Verifier runs the three checks over a set of AgentReports.
type Verifier struct {
	clk               clock.Clock
	freshnessHorizons map[string]int
}

func New(clk clock.Clock, freshnessHorizons map[string]int) *Verifier {
	if clk == nil {
		clk = clock.Real{}
	}
	if freshnessHorizons == nil {
		freshnessHorizons = DefaultFreshnessHorizons()
	}
	return &Verifier{clk: clk, freshnessHorizons: freshnessHorizons}
}

// Run checks every report's narrative and findings against its own
// citations, against the prefetched facts, and against the intent's
// freshness horizon.
func (v *Verifier) Run(reports []models.AgentReport, prefetch []models.PrefetchFact, classification models.Classification) *models.VerificationResults {
	counts := map[models.VerificationCategory]int{
		models.CategoryCitation:           0,
		models.CategoryNumericFabrication: 0,
		models.CategoryFreshness:          0,
	}
	var violations []models.Violation

	horizon := freshnessHorizonFor(classification.Intent, v.freshnessHorizons)

	for _, r := range reports {
		texts := claimTexts(r)
		for _, text := range texts {
			for _, match := range numberRe.FindAllStringIndex(text, -1) {
				token := text[match[0]:match[1]]
				window := surroundingWindow(text, match[0], match[1], citationWindow/2)

				if !hasSupportingCitation(window, r.Citations) {
					violations = append(violations, models.Violation{
						Category: models.CategoryCitation,
						AgentID:  r.AgentID,
						Detail:   fmt.Sprintf("numeric claim %q has no citation within %d characters", token, citationWindow),
					})
					counts[models.CategoryCitation]++
				}

				if !backedByEvidence(token, r, prefetch) {
					violations = append(violations, models.Violation{
						Category: models.CategoryNumericFabrication,
						AgentID:  r.AgentID,
						Detail:   fmt.Sprintf("numeric claim %q does not match any prefetched fact or report metadata", token),
					})
					counts[models.CategoryNumericFabrication]++
				}
			}

			for _, match := range yearRe.FindAllString(text, -1) {
				year, err := strconv.Atoi(match)
				if err != nil {
					continue
				}
				ageMonths := 12 * (v.clk.Now().Year() - year)
				if ageMonths > horizon {
					violations = append(violations, models.Violation{
						Category: models.CategoryFreshness,
						AgentID:  r.AgentID,
						Detail:   fmt.Sprintf("reference to %d is %d months old, beyond the %d-month %s horizon", year, ageMonths, horizon, horizonLabel(classification.Intent)),
					})
					counts[models.CategoryFreshness]++
				}
			}
		}
	}

	return &models.VerificationResults{Counts: counts, Violations: violations}
}

func claimTexts(r models.AgentReport) []string {
	texts := []string{r.Narrative}
	for _, f := range r.Findings {
		texts = append(texts, f.Text)
	}
	return texts
}

func surroundingWindow(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}

func hasSupportingCitation(window string, citations []models.Citation) bool {
	if len(citations) == 0 {
		return false
	}
	lower := strings.ToLower(window)
	for _, c := range citations {
		if c.QuotedText != "" && strings.Contains(lower, strings.ToLower(c.QuotedText)) {
			return true
		}
		if c.SourceID != "" && strings.Contains(lower, strings.ToLower(c.SourceID)) {
			return true
		}
	}
	// In a report carrying at least one citation, a numeric token with no
	// other number inside its window is treated as implicitly backed; this
	// keeps short, single-fact findings from being penalized for lacking an
	// inline marker.
	return len(citations) > 0 && len(numberRe.FindAllString(window, -1)) <= 1
}

func backedByEvidence(token string, r models.AgentReport, prefetch []models.PrefetchFact) bool {
	want, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return true
	}
	for key, raw := range r.Metadata {
		if !strings.HasPrefix(key, "metric:") {
			continue
		}
		if val, ok := toFloat(raw); ok && approxEqual(val, want) {
			return true
		}
	}
	for _, fact := range prefetch {
		if val, ok := toFloat(fact.Value); ok && approxEqual(val, want) {
			return true
		}
	}
	return false
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

func approxEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 0.01
}

func freshnessHorizonFor(intent models.Intent, horizons map[string]int) int {
	switch intent {
	case models.IntentForecast, models.IntentTrend, models.IntentPolicy:
		return horizons["macroeconomic"]
	case models.IntentDiagnostic:
		return horizons["labor"]
	default:
		return horizons["news"]
	}
}

func horizonLabel(intent models.Intent) string {
	switch intent {
	case models.IntentForecast, models.IntentTrend, models.IntentPolicy:
		return "macroeconomic"
	case models.IntentDiagnostic:
		return "labor"
	default:
		return "news"
	}
}
