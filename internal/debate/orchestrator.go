// Package debate implements the multi-phase debate orchestrator: six
// strictly ordered phases, adaptive per-complexity turn budgets,
// contradiction/resolution/data-quality detection, meta-debate and
// substantive-completion sliding-window detectors, and consensus-phase
// convergence.
package debate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/eventbus"
	"dev.helix.agent/internal/models"
)

// Speaker produces one agent's utterance for a phase, given the debate so
// far. Real implementations may call out to an LLM; they are external
// collaborators. DefaultSpeaker (below) derives a deterministic utterance
// from the agent's own AgentReport so the orchestrator is fully testable
// without one.
type Speaker interface {
	Speak(ctx context.Context, phase models.PhaseTag, query models.Query, report models.AgentReport, priorTurns []models.DebateTurn) (string, error)
}

// SpeakerFunc adapts a function to the Speaker interface.
type SpeakerFunc func(ctx context.Context, phase models.PhaseTag, query models.Query, report models.AgentReport, priorTurns []models.DebateTurn) (string, error)

func (f SpeakerFunc) Speak(ctx context.Context, phase models.PhaseTag, query models.Query, report models.AgentReport, priorTurns []models.DebateTurn) (string, error) {
	return f(ctx, phase, query, report, priorTurns)
}

// DefaultSpeaker derives an utterance from the agent's report narrative,
// used whenever no dedicated debate-capable collaborator is wired.
func DefaultSpeaker(report models.AgentReport) Speaker {
	return SpeakerFunc(func(ctx context.Context, phase models.PhaseTag, query models.Query, _ models.AgentReport, priorTurns []models.DebateTurn) (string, error) {
		switch phase {
		case models.PhaseOpeningStatements:
			return fmt.Sprintf("%s: %s", report.AgentID, report.Narrative), nil
		case models.PhaseCrossExamination:
			return fmt.Sprintf("%s: building on the discussion, I'd weigh in that %s", report.AgentID, shortSummary(report)), nil
		case models.PhaseEdgeCaseProbing:
			return fmt.Sprintf("%s: on that edge case, my assessment is %s", report.AgentID, shortSummary(report)), nil
		case models.PhaseRiskAnalysis:
			return fmt.Sprintf("%s: the principal risk I see is tied to %s", report.AgentID, shortSummary(report)), nil
		case models.PhaseConsensusAttempt:
			return fmt.Sprintf("%s: I agree with the shared direction on %s", report.AgentID, shortSummary(report)), nil
		default:
			return report.Narrative, nil
		}
	})
}

func shortSummary(report models.AgentReport) string {
	if len(report.Findings) > 0 {
		return report.Findings[0].Text
	}
	if report.Narrative != "" {
		return report.Narrative
	}
	return "the available evidence"
}

// Config bundles everything the Orchestrator needs beyond the per-request
// arguments to Run.
type Config struct {
	Profiles            map[models.Complexity]Profile
	MetaDebateVocabulary []string
}

func DefaultConfig() Config {
	return Config{Profiles: DefaultProfiles(), MetaDebateVocabulary: metaDebateVocabulary}
}

// Orchestrator runs the six-phase debate.
type Orchestrator struct {
	cfg Config
	log *logrus.Logger
}

func New(cfg Config, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	return &Orchestrator{cfg: cfg, log: log}
}

// edgeCasePrompts and riskDimensions are the prompt lists for phases 3 and
// 4: edge-case prompts are built from the Classification's metric entities,
// with a generic prompt when there are none, and risk dimensions are a fixed
// list. runRoundRobin accepts these lists but does not pass them to the
// speakers or record them as moderator turns.
func edgeCasePrompts(c models.Classification) []string {
	var prompts []string
	for _, v := range c.Entities["metric"] {
		prompts = append(prompts, fmt.Sprintf("what happens to %s under a sudden external shock?", v))
	}
	if len(prompts) == 0 {
		prompts = []string{"what is the worst-case scenario here?"}
	}
	return prompts
}

var riskDimensions = []string{"execution risk", "market risk", "policy reversal risk", "data-quality risk"}

// Run drives the debate to completion and returns DebateResults. bus may be
// nil to disable event emission (used by tests).
func (o *Orchestrator) Run(ctx context.Context, reports []models.AgentReport, classification models.Classification, query models.Query, speakers map[string]Speaker, bus *eventbus.Bus) *models.DebateResults {
	profile, ok := o.cfg.Profiles[classification.Complexity]
	if !ok {
		profile = o.cfg.Profiles[models.ComplexityStandard]
	}

	if len(reports) == 0 {
		return &models.DebateResults{
			ConsensusNarrative: "no agent produced a result",
			PhaseComplete:      map[models.PhaseTag]bool{models.PhaseSynthesis: true},
			CompletionReason:   models.ReasonBudgetExhausted,
		}
	}

	agentIDs := make([]string, 0, len(reports))
	reportByID := map[string]models.AgentReport{}
	for _, r := range reports {
		agentIDs = append(agentIDs, r.AgentID)
		reportByID[r.AgentID] = r
	}
	sort.Strings(agentIDs)

	resolvedSpeakers := map[string]Speaker{}
	for _, id := range agentIDs {
		if s, ok := speakers[id]; ok {
			resolvedSpeakers[id] = s
		} else {
			resolvedSpeakers[id] = DefaultSpeaker(reportByID[id])
		}
	}

	meta := newMetaDebateDetector(firstNonEmpty(o.cfg.MetaDebateVocabulary, metaDebateVocabulary))
	completion := &substantiveCompletionDetector{}

	// One slot of the total budget stays reserved for the Phase-6 synthesis
	// turn, so the final log never exceeds MaxTotalTurns.
	turnBudget := profile.MaxTotalTurns - 1

	var turns []models.DebateTurn
	phaseComplete := map[models.PhaseTag]bool{}
	reason := models.ReasonBudgetExhausted
	refocused := false

	record := func(phase models.PhaseTag, speaker, utterance string, refs []int) (stop bool) {
		turn := models.DebateTurn{
			Index:      len(turns),
			Phase:      phase,
			SpeakerID:  speaker,
			Utterance:  utterance,
			References: refs,
			Timestamp:  time.Now().UTC(),
		}
		turns = append(turns, turn)
		if bus != nil {
			bus.Publish(fmt.Sprintf("debate:turn%d", turn.Index), models.StatusStreaming, map[string]any{
				"phase": string(phase), "speaker": speaker,
			}, 0)
		}

		// No refocus without room for it inside the reserved budget.
		if len(turns) < turnBudget && meta.Observe(len(turns), utterance) {
			refocused = true
			refocusTurn := models.DebateTurn{
				Index:     len(turns),
				Phase:     phase,
				SpeakerID: "moderator",
				Utterance: fmt.Sprintf("moderator: let's refocus. The original question was: %q", query.Text),
				Timestamp: time.Now().UTC(),
			}
			turns = append(turns, refocusTurn)
			if bus != nil {
				bus.Publish(fmt.Sprintf("debate:turn%d", refocusTurn.Index), models.StatusStreaming, map[string]any{
					"phase": string(phase), "speaker": "moderator", "refocus": true,
				}, 0)
			}
		}

		if completion.Observe(utterance) {
			reason = models.ReasonSubstantivelyComplete
			if refocused {
				reason = models.ReasonRefocusedAndConverged
			}
			return true
		}
		if len(turns) >= turnBudget {
			reason = models.ReasonBudgetExhausted
			return true
		}
		return false
	}

	phaseStart := func(phase models.PhaseTag) {
		if bus != nil {
			bus.Publish("debate", models.StatusRunning, map[string]any{"phase": string(phase)}, 0)
		}
	}

	runRoundRobin := func(phase models.PhaseTag, prompts []string) (stopAll bool) {
		phaseStart(phase)
		turnCap := profile.PerPhaseTurnCap
		spoken := map[string]bool{}
		turnsThisPhase := 0
		promptIdx := 0
		for turnsThisPhase < turnCap || phase == models.PhaseOpeningStatements {
			allSpoken := len(spoken) >= len(agentIDs)
			if allSpoken && phase != models.PhaseOpeningStatements {
				break
			}
			for _, id := range agentIDs {
				// Opening statements give every agent one turn; the other
				// phases stop at the per-phase cap.
				if turnsThisPhase >= turnCap && phase != models.PhaseOpeningStatements {
					break
				}
				report := reportByID[id]
				utterance, err := resolvedSpeakers[id].Speak(ctx, phase, query, report, turns)
				if err != nil {
					if bus != nil {
						bus.Publish(fmt.Sprintf("debate:turn%d", len(turns)), models.StatusError, map[string]any{
							"phase": string(phase), "speaker": id, "error": err.Error(),
						}, 0)
					}
					continue
				}
				_ = promptIdx
				spoken[id] = true
				turnsThisPhase++
				if record(phase, id, utterance, nil) {
					return true
				}
				select {
				case <-ctx.Done():
					reason = models.ReasonError
					return true
				default:
				}
			}
			if phase == models.PhaseOpeningStatements {
				break
			}
		}
		return false
	}

	stoppedEarly := false

	// Phase 1: opening statements, one utterance per agent.
	phaseComplete[models.PhaseOpeningStatements] = true
	if runRoundRobin(models.PhaseOpeningStatements, nil) {
		stoppedEarly = true
	}
	if !stoppedEarly {
		validateDataQuality(reports)

		// Phase 2: cross-examination.
		if runRoundRobin(models.PhaseCrossExamination, nil) {
			stoppedEarly = true
		}
		phaseComplete[models.PhaseCrossExamination] = true
	}

	if !stoppedEarly {
		// Phase 3: edge-case probing.
		if runRoundRobin(models.PhaseEdgeCaseProbing, edgeCasePrompts(classification)) {
			stoppedEarly = true
		}
		phaseComplete[models.PhaseEdgeCaseProbing] = true
	}

	if !stoppedEarly {
		// Phase 4: risk analysis.
		if runRoundRobin(models.PhaseRiskAnalysis, riskDimensions) {
			stoppedEarly = true
		}
		phaseComplete[models.PhaseRiskAnalysis] = true
	}

	if !stoppedEarly {
		// Phase 5: consensus attempt, with convergence early-exit.
		phaseStart(models.PhaseConsensusAttempt)
		consecutiveConverged := 0
		var lastUtterance string
		phaseCap := profile.PerPhaseTurnCap
		turnsThisPhase := 0
		for _, id := range agentIDs {
			if turnsThisPhase >= phaseCap {
				break
			}
			report := reportByID[id]
			utterance, err := resolvedSpeakers[id].Speak(ctx, models.PhaseConsensusAttempt, query, report, turns)
			if err != nil {
				continue
			}
			turnsThisPhase++
			if lastUtterance != "" && jaccardSimilarity(lastUtterance, utterance) >= profile.ConvergenceThreshold {
				consecutiveConverged++
			} else {
				consecutiveConverged = 0
			}
			lastUtterance = utterance
			if record(models.PhaseConsensusAttempt, id, utterance, nil) {
				break
			}
			if consecutiveConverged >= 2 {
				reason = models.ReasonConverged
				break
			}
		}
		phaseComplete[models.PhaseConsensusAttempt] = true
	}

	contradictions := detectContradictions(reports)
	var resolutions []models.Resolution
	for _, c := range contradictions {
		resolutions = append(resolutions, resolveContradiction(c))
	}

	phaseStart(models.PhaseSynthesis)
	narrative := buildConsensusNarrative(reports, contradictions, resolutions, reason)
	synthesisTurn := models.DebateTurn{
		Index:     len(turns),
		Phase:     models.PhaseSynthesis,
		SpeakerID: "moderator",
		Utterance: narrative,
		Timestamp: time.Now().UTC(),
	}
	turns = append(turns, synthesisTurn)
	phaseComplete[models.PhaseSynthesis] = true
	if bus != nil {
		bus.Publish("debate:final_synthesis", models.StatusComplete, map[string]any{"reason": string(reason)}, 0)
	}

	return &models.DebateResults{
		Contradictions:     contradictions,
		Resolutions:        resolutions,
		ConsensusNarrative: narrative,
		TurnLog:            turns,
		PhaseComplete:      phaseComplete,
		CompletionReason:   reason,
	}
}

func buildConsensusNarrative(reports []models.AgentReport, contradictions []models.Contradiction, resolutions []models.Resolution, reason models.CompletionReason) string {
	if len(reports) == 0 {
		return "no agent produced a result"
	}
	unresolved := 0
	for _, r := range resolutions {
		if r.Action == models.ActionFlagForReview {
			unresolved++
		}
	}
	return fmt.Sprintf(
		"Debate concluded (%s) across %d agents with %d contradiction(s) detected (%d flagged for review). Representative position: %s",
		reason, len(reports), len(contradictions), unresolved, reports[0].Narrative,
	)
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

// newTurnID is kept for callers that want a stable external identifier for
// a debate run; the orchestrator itself indexes turns by position.
func newTurnID() string { return uuid.NewString() }
