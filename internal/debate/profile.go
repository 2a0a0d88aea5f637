package debate

import "dev.helix.agent/internal/models"

// Profile is the adaptive turn budget keyed by complexity.
type Profile struct {
	MaxTotalTurns        int
	PerPhaseTurnCap      int
	ConvergenceThreshold float64
}

// DefaultProfiles returns the built-in budget table.
func DefaultProfiles() map[models.Complexity]Profile {
	return map[models.Complexity]Profile{
		models.ComplexitySimple:   {MaxTotalTurns: 15, PerPhaseTurnCap: 4, ConvergenceThreshold: 0.80},
		models.ComplexityStandard: {MaxTotalTurns: 40, PerPhaseTurnCap: 10, ConvergenceThreshold: 0.75},
		models.ComplexityComplex:  {MaxTotalTurns: 125, PerPhaseTurnCap: 30, ConvergenceThreshold: 0.70},
	}
}

var orderedPhases = []models.PhaseTag{
	models.PhaseOpeningStatements,
	models.PhaseCrossExamination,
	models.PhaseEdgeCaseProbing,
	models.PhaseRiskAnalysis,
	models.PhaseConsensusAttempt,
	models.PhaseSynthesis,
}
