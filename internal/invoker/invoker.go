// Package invoker runs the selected agents concurrently and merges their
// AgentReports, ordered by canonical agent id.
package invoker

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/concurrency"
	"dev.helix.agent/internal/models"
	"dev.helix.agent/internal/selector"
)

// Agent is the external collaborator that produces an AgentReport.
type Agent interface {
	Analyze(ctx context.Context, query models.Query, classification models.Classification, prefetch []models.PrefetchFact, retrieval *models.RetrievalContext) (models.AgentReport, error)
}

// Config controls the per-agent invocation timeout.
type Config struct {
	PerAgentTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{PerAgentTimeout: 120 * time.Second}
}

// Invoker runs the Agent Invoker stage.
type Invoker struct {
	agents map[string]Agent // canonical id -> agent
	cfg    Config
	log    *logrus.Logger
}

func New(agents map[string]Agent, cfg Config, log *logrus.Logger) *Invoker {
	if log == nil {
		log = logrus.New()
	}
	canonical := make(map[string]Agent, len(agents))
	for id, a := range agents {
		canonical[selector.Canonicalize(id)] = a
	}
	return &Invoker{agents: canonical, cfg: cfg, log: log}
}

// Run launches every selected agent in parallel and returns reports ordered
// by canonical agent id. A timed-out or failing agent yields an empty
// report rather than failing the stage. If two selected ids normalize to
// the same canonical form, the later one (in the order of selectedIDs)
// overwrites the earlier, guarding against any selector defect.
func (inv *Invoker) Run(ctx context.Context, selectedIDs []string, query models.Query, classification models.Classification, prefetch []models.PrefetchFact, retrieval *models.RetrievalContext) []models.AgentReport {
	var tasks []concurrency.Task
	order := make([]string, 0, len(selectedIDs))
	seen := map[string]bool{}

	for _, rawID := range selectedIDs {
		canonical := selector.Canonicalize(rawID)
		if !seen[canonical] {
			order = append(order, canonical)
			seen[canonical] = true
		}
		agent, ok := inv.agents[canonical]
		if !ok {
			continue
		}
		id := canonical
		tasks = append(tasks, concurrency.Task{
			ID: id,
			Run: func(taskCtx context.Context) (any, error) {
				report, err := agent.Analyze(taskCtx, query, classification, prefetch, retrieval)
				report.AgentID = id
				return report, err
			},
		})
	}

	reportsByID := map[string]models.AgentReport{}

	if len(tasks) > 0 {
		fan := concurrency.NewFanOut(len(tasks), inv.cfg.PerAgentTimeout)
		fan.OnError(func(taskID string, err error) {
			inv.log.WithError(err).WithField("agent", taskID).Warn("invoker: agent failed, substituting empty report")
		})
		for _, r := range fan.RunBatch(ctx, tasks) {
			if r.Err != nil {
				reportsByID[r.TaskID] = emptyReport(r.TaskID, r.Err)
				continue
			}
			report, ok := r.Value.(models.AgentReport)
			if !ok {
				reportsByID[r.TaskID] = emptyReport(r.TaskID, nil)
				continue
			}
			// Case-insensitive safeguard: a later report for the same
			// canonical id overwrites an earlier one rather than
			// duplicating it.
			reportsByID[r.TaskID] = report
		}
	}

	for _, id := range order {
		if _, ok := reportsByID[id]; !ok {
			reportsByID[id] = emptyReport(id, nil)
		}
	}

	reports := make([]models.AgentReport, 0, len(reportsByID))
	for _, r := range reportsByID {
		reports = append(reports, r)
	}
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].AgentID < reports[j].AgentID })
	return reports
}

func emptyReport(agentID string, err error) models.AgentReport {
	warning := "no result"
	if err != nil {
		warning = "no result: " + err.Error()
	}
	return models.AgentReport{
		AgentID:    agentID,
		Narrative:  "no result",
		Confidence: 0,
		Warnings:   []string{warning},
	}
}
