// Package workflow drives the analysis pipeline: a fixed stage order
// threading one AnalysisState, with a short deterministic path after
// classification and a full analytical path through prefetch, retrieval,
// agent selection, invocation, debate, critique, verification, and
// synthesis. The driver owns the state between stages; each stage receives
// read-only views of prior fields and writes only its own.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/apperrors"
	"dev.helix.agent/internal/classifier"
	"dev.helix.agent/internal/concurrency"
	"dev.helix.agent/internal/config"
	"dev.helix.agent/internal/critique"
	"dev.helix.agent/internal/debate"
	"dev.helix.agent/internal/eventbus"
	"dev.helix.agent/internal/invoker"
	"dev.helix.agent/internal/models"
	"dev.helix.agent/internal/prefetch"
	"dev.helix.agent/internal/retrieval"
	"dev.helix.agent/internal/selector"
	"dev.helix.agent/internal/synthesizer"
	"dev.helix.agent/internal/verifier"
)

// Deps bundles the stage implementations and cross-cutting services the
// driver wires together. Classify defaults to the built-in classifier;
// Metrics and Audit are optional.
type Deps struct {
	Classify    func(question string) models.Classification
	Prefetch    *prefetch.Fetcher
	Retrieval   *retrieval.Retriever
	Selector    *selector.Registry
	Invoker     *invoker.Invoker
	Debate      *debate.Orchestrator
	Critic      *critique.Critic
	Verifier    *verifier.Verifier
	Synthesizer *synthesizer.Synthesizer
	Speakers    map[string]debate.Speaker

	Metrics           *config.Metrics
	Audit             AuditSink
	HeartbeatInterval time.Duration
	Log               *logrus.Logger
}

// Driver executes one request pipeline per Run call. It is safe for
// concurrent use: all per-request state lives on the stack of Run.
type Driver struct {
	deps Deps
	log  *logrus.Logger
}

func New(deps Deps) *Driver {
	if deps.Classify == nil {
		deps.Classify = classifier.Classify
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 15 * time.Second
	}
	log := deps.Log
	if log == nil {
		log = logrus.New()
	}
	return &Driver{deps: deps, log: log}
}

// Run executes the pipeline for question, streaming progress events to bus.
// It returns the accumulated AnalysisState. The terminal (done, complete)
// event is emitted on every path except validation failure (no stream is
// opened) and cancellation (done carries status error, reason cancelled).
func (d *Driver) Run(ctx context.Context, question, providerHint string, bus *eventbus.Bus) (*models.AnalysisState, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperrors.Validation("workflow", fmt.Errorf("question must be non-empty"))
	}

	state := &models.AnalysisState{
		Query: models.Query{
			ID:           uuid.NewString(),
			Text:         question,
			ProviderHint: providerHint,
			CreatedAt:    time.Now().UTC(),
		},
	}
	reqLog := d.log.WithField("request_id", state.Query.ID)
	started := time.Now()

	heartbeat := concurrency.NewBackground(func(hbCtx context.Context) {
		bus.RunHeartbeat(hbCtx, d.deps.HeartbeatInterval)
	})
	heartbeat.Start()
	defer heartbeat.Stop()

	// Classification is deterministic and local; it is the only stage
	// whose failure would be a driver bug rather than a collaborator
	// failure, so it still runs under the same recovery wrapper.
	d.runStage(state, bus, "classify", func() {
		c := d.deps.Classify(question)
		state.Classification = &c
		bus.Publish("classify", models.StatusComplete, map[string]any{
			"intent":     string(c.Intent),
			"complexity": string(c.Complexity),
			"confidence": c.Confidence,
		}, time.Since(started))
	})
	if err := d.checkCancelled(ctx, state, bus); err != nil {
		return state, err
	}

	classification := state.Classification
	if classification == nil {
		fallback := models.Classification{Intent: models.IntentGeneric, Complexity: models.ComplexityStandard, Routing: models.RoutingLLMAgents}
		classification = &fallback
	}

	if classification.Routing == models.RoutingDeterministicOnly {
		d.renderDeterministic(state, bus, started)
		d.finish(ctx, state, bus, reqLog, started, nil)
		return state, nil
	}

	d.runStage(state, bus, "prefetch", func() {
		start := time.Now()
		bus.Publish("prefetch", models.StatusRunning, nil, 0)
		facts, errs := d.prefetchFacts(ctx, *classification)
		state.Prefetch = facts
		state.PrefetchErrors = errs
		if len(errs) > 0 {
			bus.Publish("prefetch", models.StatusRunning, map[string]any{"failed_sources": errs}, time.Since(start))
			state.DegradedStages = appendUnique(state.DegradedStages, "prefetch")
		}
		bus.Publish("prefetch", models.StatusComplete, map[string]any{"facts": len(facts)}, time.Since(start))
	})
	if err := d.checkCancelled(ctx, state, bus); err != nil {
		return state, err
	}

	d.runStage(state, bus, "rag", func() {
		start := time.Now()
		bus.Publish("rag", models.StatusRunning, nil, 0)
		rc, warnings := d.retrieve(ctx, question)
		state.Retrieval = rc
		if len(warnings) > 0 {
			state.DegradedStages = appendUnique(state.DegradedStages, "rag")
		}
		bus.Publish("rag", models.StatusComplete, map[string]any{
			"snippets": rc.SnippetCount, "warnings": warnings,
		}, time.Since(start))
	})
	if err := d.checkCancelled(ctx, state, bus); err != nil {
		return state, err
	}

	d.runStage(state, bus, "agent_selection", func() {
		start := time.Now()
		bus.Publish("agent_selection", models.StatusRunning, nil, 0)
		if d.deps.Selector != nil {
			state.SelectedAgents = d.deps.Selector.Select(*classification)
		}
		bus.Publish("agent_selection", models.StatusComplete, map[string]any{"agents": state.SelectedAgents}, time.Since(start))
	})

	d.runStage(state, bus, "agents", func() {
		start := time.Now()
		bus.Publish("agents", models.StatusRunning, map[string]any{"count": len(state.SelectedAgents)}, 0)
		if d.deps.Invoker != nil {
			state.AgentReports = d.deps.Invoker.Run(ctx, state.SelectedAgents, state.Query, *classification, state.Prefetch, state.Retrieval)
		}
		for _, r := range state.AgentReports {
			bus.Publish("agent:"+r.AgentID, models.StatusComplete, map[string]any{"confidence": r.Confidence}, time.Since(start))
		}
		bus.Publish("agents", models.StatusComplete, map[string]any{"reports": len(state.AgentReports)}, time.Since(start))
	})
	if err := d.checkCancelled(ctx, state, bus); err != nil {
		return state, err
	}

	d.runStage(state, bus, "debate", func() {
		start := time.Now()
		bus.Publish("debate", models.StatusRunning, map[string]any{"complexity": string(classification.Complexity)}, 0)
		if d.deps.Debate != nil {
			state.DebateResults = d.deps.Debate.Run(ctx, state.AgentReports, *classification, state.Query, d.deps.Speakers, bus)
		}
		payload := map[string]any{}
		if state.DebateResults != nil {
			payload["turns"] = len(state.DebateResults.TurnLog)
			payload["reason"] = string(state.DebateResults.CompletionReason)
			if d.deps.Metrics != nil {
				d.deps.Metrics.DebateTurnsTotal.Add(float64(len(state.DebateResults.TurnLog)))
				d.deps.Metrics.ContradictionsTotal.Add(float64(len(state.DebateResults.Contradictions)))
			}
		}
		bus.Publish("debate", models.StatusComplete, payload, time.Since(start))
	})
	if err := d.checkCancelled(ctx, state, bus); err != nil {
		return state, err
	}

	d.runStage(state, bus, "critique", func() {
		start := time.Now()
		bus.Publish("critique", models.StatusRunning, nil, 0)
		narrative := ""
		if state.DebateResults != nil {
			narrative = state.DebateResults.ConsensusNarrative
		}
		if d.deps.Critic != nil {
			state.CritiqueResults = d.deps.Critic.Run(ctx, state.AgentReports, narrative)
		}
		items := 0
		if state.CritiqueResults != nil {
			items = len(state.CritiqueResults.Items)
		}
		bus.Publish("critique", models.StatusComplete, map[string]any{"items": items}, time.Since(start))
	})

	d.runStage(state, bus, "verify", func() {
		start := time.Now()
		bus.Publish("verify", models.StatusRunning, nil, 0)
		if d.deps.Verifier != nil {
			state.Verification = d.deps.Verifier.Run(state.AgentReports, state.Prefetch, *classification)
		}
		violations := 0
		if state.Verification != nil {
			violations = len(state.Verification.Violations)
		}
		bus.Publish("verify", models.StatusComplete, map[string]any{"violations": violations}, time.Since(start))
	})
	if err := d.checkCancelled(ctx, state, bus); err != nil {
		return state, err
	}

	d.runStage(state, bus, "synthesize", func() {
		start := time.Now()
		bus.Publish("synthesize", models.StatusRunning, nil, 0)
		if d.deps.Synthesizer != nil {
			state.Synthesis = d.deps.Synthesizer.Run(ctx, state.AgentReports, state.DebateResults, state.CritiqueResults, state.Verification)
		}
		if state.Synthesis == nil || state.Synthesis.Narrative == "" {
			// Whatever happened upstream, the request ends with a
			// non-empty briefing over the state that did accumulate.
			state.Synthesis = d.degradedSynthesis(state)
		}
		if len(state.DegradedStages) > 0 {
			state.Synthesis.DegradedStages = appendAllUnique(state.Synthesis.DegradedStages, state.DegradedStages)
		}
		bus.Publish("synthesize", models.StatusComplete, map[string]any{
			"confidence": state.Synthesis.Confidence,
			"clusters":   len(state.Synthesis.Clusters),
		}, time.Since(start))
	})
	if err := d.checkCancelled(ctx, state, bus); err != nil {
		return state, err
	}

	d.finish(ctx, state, bus, reqLog, started, state.DegradedStages)
	return state, nil
}

// runStage executes fn under panic recovery. A panic is a driver bug: it
// is logged with the full state keyset, surfaced as a stage-level error
// event, and the pipeline continues with the stage's output absent.
func (d *Driver) runStage(state *models.AnalysisState, bus *eventbus.Bus, stage string, fn func()) {
	start := time.Now()
	defer func() {
		if d.deps.Metrics != nil {
			d.deps.Metrics.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		}
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"stage":      stage,
				"panic":      fmt.Sprint(r),
				"state_keys": state.StateKeys(),
			}).Error("workflow: stage panicked, continuing degraded")
			state.DegradedStages = appendUnique(state.DegradedStages, stage)
			bus.Publish(stage, models.StatusError, map[string]any{"error": fmt.Sprint(r)}, time.Since(start))
		}
	}()
	fn()
	d.log.WithFields(logrus.Fields{"stage": stage, "state_keys": state.StateKeys()}).Info("workflow: stage boundary")
}

func (d *Driver) prefetchFacts(ctx context.Context, c models.Classification) ([]models.PrefetchFact, []string) {
	if d.deps.Prefetch == nil {
		return nil, nil
	}
	return d.deps.Prefetch.Run(ctx, c)
}

func (d *Driver) retrieve(ctx context.Context, question string) (*models.RetrievalContext, []string) {
	if d.deps.Retrieval == nil {
		return &models.RetrievalContext{}, nil
	}
	return d.deps.Retrieval.Run(ctx, question)
}

func (d *Driver) checkCancelled(ctx context.Context, state *models.AnalysisState, bus *eventbus.Bus) error {
	if ctx.Err() == nil {
		return nil
	}
	bus.Done(models.StatusError, map[string]any{
		"reason":     "cancelled",
		"request_id": state.Query.ID,
	})
	return apperrors.Cancelled("workflow")
}

// renderDeterministic is the short path: the classifier routed the question
// away from the agent pipeline, so the briefing is a rendering of the
// classification itself.
func (d *Driver) renderDeterministic(state *models.AnalysisState, bus *eventbus.Bus, started time.Time) {
	c := state.Classification
	narrative := fmt.Sprintf(
		"Classified as %s (%s complexity, confidence %.2f). This question is answerable without the agent pipeline.",
		c.Intent, c.Complexity, c.Confidence,
	)
	state.Synthesis = &models.Synthesis{Narrative: narrative, Confidence: c.Confidence}
	bus.Publish("synthesize", models.StatusComplete, map[string]any{"deterministic": true}, time.Since(started))
}

func (d *Driver) degradedSynthesis(state *models.AnalysisState) *models.Synthesis {
	var b strings.Builder
	b.WriteString("Analysis completed in degraded mode.")
	if state.DebateResults != nil && state.DebateResults.ConsensusNarrative != "" {
		b.WriteString(" ")
		b.WriteString(state.DebateResults.ConsensusNarrative)
	} else if len(state.AgentReports) == 0 {
		b.WriteString(" No agent produced a result.")
	}
	if len(state.DegradedStages) > 0 {
		b.WriteString(" Degraded stages: " + strings.Join(state.DegradedStages, ", ") + ".")
	}
	return &models.Synthesis{
		Narrative:      b.String(),
		Confidence:     0,
		DegradedStages: append([]string(nil), state.DegradedStages...),
	}
}

func (d *Driver) finish(ctx context.Context, state *models.AnalysisState, bus *eventbus.Bus, reqLog *logrus.Entry, started time.Time, degraded []string) {
	payload := map[string]any{
		"request_id": state.Query.ID,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if len(degraded) > 0 {
		payload["degraded_stages"] = degraded
	}
	bus.Done(models.StatusComplete, payload)
	reqLog.WithField("elapsed", time.Since(started)).Info("workflow: request complete")

	if d.deps.Audit != nil {
		summary := summarize(state, time.Since(started))
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.deps.Audit.Record(actx, summary); err != nil {
				reqLog.WithError(err).Warn("workflow: audit record failed")
			}
		}()
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendAllUnique(list []string, vs []string) []string {
	for _, v := range vs {
		list = appendUnique(list, v)
	}
	return list
}
