// Package models defines the data types threaded through the deliberation
// pipeline: Query, Classification, PrefetchFact, RetrievalContext,
// AgentReport, DebateTurn, Contradiction, Resolution, Cluster, the
// accumulating AnalysisState, and the streaming Event envelope.
package models

import "time"

// Intent is the closed set of question intents the Classifier assigns.
type Intent string

const (
	IntentPolicy     Intent = "policy"
	IntentComparison Intent = "comparison"
	IntentTrend      Intent = "trend"
	IntentForecast   Intent = "forecast"
	IntentDiagnostic Intent = "diagnostic"
	IntentGeneric    Intent = "generic"
)

// Complexity is the closed set of complexity tags.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// Routing indicates whether the deterministic path or the full analytical
// path should run.
type Routing string

const (
	RoutingDeterministicOnly Routing = "deterministic-only"
	RoutingLLMAgents         Routing = "llm-agents"
)

// Query is the immutable record created once per request.
type Query struct {
	ID           string
	Text         string
	ProviderHint string
	CreatedAt    time.Time
}

// Classification is produced by the Classifier.
type Classification struct {
	Intent     Intent
	Complexity Complexity
	Confidence float64
	Entities   map[string][]string // entity kind -> normalized values
	Routing    Routing
}

// PrefetchFact is a typed, sourced factual datum retrieved before agent
// invocation. Value holds a float64, string, or bool.
type PrefetchFact struct {
	Metric     string
	Value      any
	SourceID   string
	Confidence float64
	RawSnippet string
}

// RetrievalContext tracks provenance only; snippet content is handed to the
// Agent Invoker via an opaque handle, not carried in AnalysisState.
type RetrievalContext struct {
	SnippetCount int
	SourceIDs    []string
	Handle       any
}

// Citation references a quoted span of source material.
type Citation struct {
	QuotedText string
	SourceID   string
	QueryID    string
}

// Finding is one discrete claim inside an AgentReport.
type Finding struct {
	Text       string
	Confidence float64
	Warnings   []string
}

// AgentReport is one agent's contribution after invocation.
type AgentReport struct {
	AgentID    string // canonical lowercase id
	Narrative  string
	Confidence float64
	Findings   []Finding
	Warnings   []string
	Citations  []Citation
	Metadata   map[string]any
}

// PhaseTag is the closed set of debate phases.
type PhaseTag string

const (
	PhaseOpeningStatements PhaseTag = "opening_statements"
	PhaseCrossExamination  PhaseTag = "cross_examination"
	PhaseEdgeCaseProbing   PhaseTag = "edge_case_probing"
	PhaseRiskAnalysis      PhaseTag = "risk_analysis"
	PhaseConsensusAttempt  PhaseTag = "consensus_attempt"
	PhaseSynthesis         PhaseTag = "synthesis"
)

// DebateTurn is one append-only entry in the debate log.
type DebateTurn struct {
	Index      int
	Phase      PhaseTag
	SpeakerID  string
	Utterance  string
	References []int
	Timestamp  time.Time
}

// Severity is the closed set of contradiction severities.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Contradiction is detected between two AgentReports on the same metric.
type Contradiction struct {
	Metric      string
	AgentA      string
	ValueA      any
	CitationA   *Citation
	ConfidenceA float64
	AgentB      string
	ValueB      any
	CitationB   *Citation
	ConfidenceB float64
	Severity    Severity
}

// ResolutionKind is the closed set of resolution outcomes.
type ResolutionKind string

const (
	ResolutionAgentACorrect ResolutionKind = "agent_a_correct"
	ResolutionAgentBCorrect ResolutionKind = "agent_b_correct"
	ResolutionBothValid     ResolutionKind = "both_valid"
	ResolutionNeitherValid  ResolutionKind = "neither_valid"
)

// ResolutionAction is the closed set of recommended follow-up actions.
type ResolutionAction string

const (
	ActionUseAgentA     ResolutionAction = "use_agent_a"
	ActionUseAgentB     ResolutionAction = "use_agent_b"
	ActionUseBoth       ResolutionAction = "use_both"
	ActionFlagForReview ResolutionAction = "flag_for_review"
)

// Resolution is the moderator's proposed outcome for one Contradiction.
type Resolution struct {
	Kind               ResolutionKind
	Explanation        string
	RecommendedValue   any
	RecommendedCitation *Citation
	Confidence         float64
	Action             ResolutionAction
}

// Cluster groups semantically similar agent recommendations during
// synthesis.
type Cluster struct {
	ID                string
	RepresentativeID  string
	MemberIDs         []string
	CentroidEmbedding []float64
}

// CompletionReason is the closed set of ways a debate can end.
type CompletionReason string

const (
	ReasonBudgetExhausted        CompletionReason = "budget-exhausted"
	ReasonConverged              CompletionReason = "converged"
	ReasonSubstantivelyComplete  CompletionReason = "substantively-complete"
	ReasonRefocusedAndConverged  CompletionReason = "refocused-and-converged"
	ReasonError                  CompletionReason = "error"
)

// DebateResults is the public return value of the Debate Orchestrator.
type DebateResults struct {
	Contradictions     []Contradiction
	Resolutions        []Resolution
	ConsensusNarrative string
	TurnLog            []DebateTurn
	PhaseComplete      map[PhaseTag]bool
	CompletionReason   CompletionReason
}

// CritiqueItem is one devil's-advocate finding.
type CritiqueItem struct {
	AgentID         string
	Weakness        string
	CounterArgument string
	Severity        Severity
	RobustnessScore float64
}

// CritiqueResults bundles every CritiqueItem plus an overall assessment.
type CritiqueResults struct {
	Items             []CritiqueItem
	OverallAssessment string
}

// VerificationCategory names one of the three Verifier checks.
type VerificationCategory string

const (
	CategoryCitation           VerificationCategory = "citation"
	CategoryNumericFabrication VerificationCategory = "numeric_fabrication"
	CategoryFreshness          VerificationCategory = "freshness"
)

// Violation is one Verifier finding.
type Violation struct {
	Category VerificationCategory
	AgentID  string
	Detail   string
}

// VerificationResults bundles per-category counts and the violation list.
type VerificationResults struct {
	Counts     map[VerificationCategory]int
	Violations []Violation
}

// Synthesis is the final briefing produced by the Synthesizer.
type Synthesis struct {
	Narrative          string
	Confidence         float64
	Clusters           []Cluster
	DegradedStages     []string
	UnresolvedFlags    []string
	UnbackedNumbers    []string
	DegradedClustering bool
}

// AnalysisState is the single monotonically-augmented record threaded
// through the pipeline. Each field is owned by exactly one stage; once a
// stage completes, its field is immutable for the rest of the request.
type AnalysisState struct {
	Query          Query
	Classification *Classification
	Prefetch       []PrefetchFact
	PrefetchErrors []string
	Retrieval      *RetrievalContext
	SelectedAgents []string
	AgentReports   []AgentReport
	DebateResults  *DebateResults
	CritiqueResults *CritiqueResults
	Verification   *VerificationResults
	Synthesis      *Synthesis
	DegradedStages []string
}

// StateKeys returns the set of top-level fields currently populated, used
// by the workflow driver to validate the state-key invariant at stage
// boundaries and to log for observability.
func (s *AnalysisState) StateKeys() []string {
	keys := []string{"query"}
	if s.Classification != nil {
		keys = append(keys, "classification")
	}
	if s.Prefetch != nil || s.PrefetchErrors != nil {
		keys = append(keys, "prefetch")
	}
	if s.Retrieval != nil {
		keys = append(keys, "retrieval")
	}
	if s.SelectedAgents != nil {
		keys = append(keys, "selected_agents")
	}
	if s.AgentReports != nil {
		keys = append(keys, "agent_reports")
	}
	if s.DebateResults != nil {
		keys = append(keys, "debate_results")
	}
	if s.CritiqueResults != nil {
		keys = append(keys, "critique_results")
	}
	if s.Verification != nil {
		keys = append(keys, "verification")
	}
	if s.Synthesis != nil {
		keys = append(keys, "synthesis")
	}
	return keys
}

// EventStatus is the closed set of event statuses.
type EventStatus string

const (
	StatusRunning   EventStatus = "running"
	StatusStreaming EventStatus = "streaming"
	StatusComplete  EventStatus = "complete"
	StatusError     EventStatus = "error"
)

// Event is the read-only-once-enqueued progress envelope carried by the
// Event Bus.
type Event struct {
	Stage      string
	Status     EventStatus
	Payload    map[string]any
	LatencyMs  int64
	Timestamp  time.Time
	TraceID    string
}
