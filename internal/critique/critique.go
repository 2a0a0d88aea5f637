// Package critique implements the devil's-advocate pass over merged reports
// and the debate synthesis. A single Critic reads every AgentReport
// plus the debate's consensus narrative and emits one CritiqueItem per
// weakness it finds; a reviewer error for one report is logged and that
// report skipped rather than propagated, since the stage is non-fatal.
package critique

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/models"
)

// lowConfidenceFloor marks a report as a weakness target when its own
// confidence falls below this value.
const lowConfidenceFloor = 0.55

// minRobustness is the lowest robustness score a critiqued report can
// receive.
const minRobustness = 0.15

// Critic runs the devil's-advocate pass. A nil LLM-backed Reviewer falls
// back to the heuristic reviewer below, keeping the stage fully testable
// without an external collaborator.
type Critic struct {
	reviewer Reviewer
	log      *logrus.Logger
}

// Reviewer produces the devil's-advocate critique for one AgentReport,
// given the full set of reports and the debate's consensus narrative for
// context. A real implementation may call out to an LLM; HeuristicReview
// (below) needs none.
type Reviewer interface {
	Review(ctx context.Context, report models.AgentReport, allReports []models.AgentReport, consensusNarrative string) (*models.CritiqueItem, error)
}

// ReviewerFunc adapts a function to the Reviewer interface.
type ReviewerFunc func(ctx context.Context, report models.AgentReport, allReports []models.AgentReport, consensusNarrative string) (*models.CritiqueItem, error)

func (f ReviewerFunc) Review(ctx context.Context, report models.AgentReport, allReports []models.AgentReport, consensusNarrative string) (*models.CritiqueItem, error) {
	return f(ctx, report, allReports, consensusNarrative)
}

func New(reviewer Reviewer, log *logrus.Logger) *Critic {
	if log == nil {
		log = logrus.New()
	}
	if reviewer == nil {
		reviewer = ReviewerFunc(HeuristicReview)
	}
	return &Critic{reviewer: reviewer, log: log}
}

// Run produces CritiqueResults for the given reports and consensus
// narrative. Any per-report reviewer error is logged and skipped rather
// than failing the whole pass; a reviewer panic is not recovered here since
// HeuristicReview cannot panic and an external Reviewer is expected to
// return an error instead.
func (c *Critic) Run(ctx context.Context, reports []models.AgentReport, consensusNarrative string) *models.CritiqueResults {
	var items []models.CritiqueItem
	for _, r := range reports {
		item, err := c.reviewer.Review(ctx, r, reports, consensusNarrative)
		if err != nil {
			c.log.WithError(err).WithField("agent_id", r.AgentID).Warn("critique: reviewer failed, skipping")
			continue
		}
		if item != nil {
			items = append(items, *item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].AgentID < items[j].AgentID })
	return &models.CritiqueResults{
		Items:             items,
		OverallAssessment: overallAssessment(items, len(reports)),
	}
}

// HeuristicReview is the default, dependency-free Reviewer. It flags a
// report as a weakness target when it shows low self-reported confidence,
// carries warnings from an earlier stage, or states findings without any
// supporting citation.
func HeuristicReview(ctx context.Context, report models.AgentReport, allReports []models.AgentReport, consensusNarrative string) (*models.CritiqueItem, error) {
	var reasons []string
	severity := models.SeverityLow

	if report.Confidence < lowConfidenceFloor {
		reasons = append(reasons, fmt.Sprintf("self-reported confidence of %.2f is below the %.2f floor", report.Confidence, lowConfidenceFloor))
		severity = models.SeverityMedium
	}
	if len(report.Findings) > 0 && len(report.Citations) == 0 {
		reasons = append(reasons, "findings are stated without a supporting citation")
		severity = escalate(severity, models.SeverityMedium)
	}
	if len(report.Warnings) > 0 {
		reasons = append(reasons, fmt.Sprintf("carries %d unresolved warning(s) from an earlier stage", len(report.Warnings)))
	}
	if isOutlier(report, allReports) {
		reasons = append(reasons, "narrative diverges from the consensus direction taken by the rest of the panel")
		severity = escalate(severity, models.SeverityHigh)
	}

	if len(reasons) == 0 {
		return nil, nil
	}

	robustness := 1.0 - 0.25*float64(len(reasons))
	if robustness < minRobustness {
		robustness = minRobustness
	}

	return &models.CritiqueItem{
		AgentID:         report.AgentID,
		Weakness:        strings.Join(reasons, "; "),
		CounterArgument: counterArgument(report, consensusNarrative),
		Severity:        severity,
		RobustnessScore: robustness,
	}, nil
}

func counterArgument(report models.AgentReport, consensusNarrative string) string {
	if consensusNarrative == "" {
		return fmt.Sprintf("an independent reviewer would ask %s to substantiate its position with primary sources", report.AgentID)
	}
	return fmt.Sprintf("the panel's broader synthesis (%q) suggests %s's position may need to account for contradicting evidence elsewhere", truncate(consensusNarrative, 80), report.AgentID)
}

func isOutlier(report models.AgentReport, allReports []models.AgentReport) bool {
	if len(allReports) < 3 {
		return false
	}
	var sum float64
	for _, r := range allReports {
		sum += r.Confidence
	}
	mean := sum / float64(len(allReports))
	return report.Confidence < mean-0.30
}

func escalate(current, candidate models.Severity) models.Severity {
	rank := map[models.Severity]int{models.SeverityLow: 0, models.SeverityMedium: 1, models.SeverityHigh: 2}
	if rank[candidate] > rank[current] {
		return candidate
	}
	return current
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func overallAssessment(items []models.CritiqueItem, totalReports int) string {
	if len(items) == 0 {
		return "no material weaknesses found across the panel"
	}
	high := 0
	for _, i := range items {
		if i.Severity == models.SeverityHigh {
			high++
		}
	}
	return fmt.Sprintf("%d of %d agent position(s) drew a critique (%d high-severity)", len(items), totalReports, high)
}
