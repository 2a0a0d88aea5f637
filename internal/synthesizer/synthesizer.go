// Package synthesizer produces the final briefing: greedy
// single-pass semantic clustering of agent recommendations, consensus and
// dissent statements, and a confidence score discounted by high-severity
// contradictions.
package synthesizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/embedder"
	"dev.helix.agent/internal/models"
)

// lowConfidenceFloor is the threshold below which a report's recommendation
// is surfaced explicitly as a low-confidence item in the briefing.
const lowConfidenceFloor = 0.60

// Config bundles the semantic and lexical-fallback clustering thresholds.
type Config struct {
	ClusteringThreshold      float64
	LexicalFallbackThreshold float64
}

func DefaultConfig() Config {
	return Config{ClusteringThreshold: 0.65, LexicalFallbackThreshold: 0.40}
}

// Synthesizer produces a Synthesis from the accumulated pipeline state.
type Synthesizer struct {
	cfg      Config
	embedSvc *embedder.Service
	log      *logrus.Logger
}

func New(cfg Config, embedSvc *embedder.Service, log *logrus.Logger) *Synthesizer {
	if log == nil {
		log = logrus.New()
	}
	return &Synthesizer{cfg: cfg, embedSvc: embedSvc, log: log}
}

// recommendation pairs an agent's extracted recommendation text with its
// originating report, carried alongside through clustering.
type recommendation struct {
	agentID string
	text    string
	report  models.AgentReport
}

// Run produces the final Synthesis. It never fails: an embedder failure
// degrades to lexical clustering with a warning rather than aborting.
func (s *Synthesizer) Run(ctx context.Context, reports []models.AgentReport, debateResults *models.DebateResults, critiqueResults *models.CritiqueResults, verification *models.VerificationResults) *models.Synthesis {
	if len(reports) == 0 {
		return &models.Synthesis{Narrative: "no agent reports were available to synthesize", Confidence: 0}
	}

	recs := extractRecommendations(reports)
	embeddings, degraded := s.embedAll(ctx, recs)

	var clusters []models.Cluster
	var memberAgents map[string][]string
	if degraded {
		clusters, memberAgents = clusterLexical(recs, s.cfg.LexicalFallbackThreshold)
	} else {
		clusters, memberAgents = clusterSemantic(recs, embeddings, s.cfg.ClusteringThreshold)
	}

	sort.Slice(clusters, func(i, j int) bool { return len(memberAgents[clusters[i].ID]) > len(memberAgents[clusters[j].ID]) })

	narrative, unresolvedFlags, unbackedNumbers := buildNarrative(recs, clusters, memberAgents, debateResults, critiqueResults, verification)

	confidence := confidenceScore(reports, clusters, memberAgents, debateResults)

	var degradedStages []string
	if degraded {
		degradedStages = append(degradedStages, "synthesizer:clustering")
	}

	return &models.Synthesis{
		Narrative:          narrative,
		Confidence:         confidence,
		Clusters:           clusters,
		DegradedStages:     degradedStages,
		UnresolvedFlags:    unresolvedFlags,
		UnbackedNumbers:    unbackedNumbers,
		DegradedClustering: degraded,
	}
}

func extractRecommendations(reports []models.AgentReport) []recommendation {
	recs := make([]recommendation, 0, len(reports))
	for _, r := range reports {
		text := r.Narrative
		if len(r.Findings) > 0 {
			text = r.Findings[0].Text
		}
		recs = append(recs, recommendation{agentID: r.AgentID, text: text, report: r})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].agentID < recs[j].agentID })
	return recs
}

// embedAll returns one embedding per recommendation, in the same order, or
// degraded=true if the embedder is unavailable or any call fails.
func (s *Synthesizer) embedAll(ctx context.Context, recs []recommendation) ([][]float64, bool) {
	if s.embedSvc == nil {
		return nil, true
	}
	emb, err := s.embedSvc.Get()
	if err != nil {
		s.log.WithError(err).Warn("synthesizer: embedder unavailable, falling back to lexical clustering")
		return nil, true
	}
	out := make([][]float64, len(recs))
	for i, r := range recs {
		vec, err := emb.Embed(ctx, r.text)
		if err != nil {
			s.log.WithError(err).Warn("synthesizer: embedding call failed, falling back to lexical clustering")
			return nil, true
		}
		out[i] = vec
	}
	return out, false
}

// clusterSemantic performs greedy single-pass assignment in
// canonical-id order, cosine similarity against each cluster's
// representative, ties broken by lowest cluster id.
func clusterSemantic(recs []recommendation, embeddings [][]float64, threshold float64) ([]models.Cluster, map[string][]string) {
	var clusters []models.Cluster
	members := map[string][]string{}
	repEmbeddings := map[string][]float64{}

	for i, r := range recs {
		bestID := ""
		bestScore := -1.0
		for _, c := range clusters {
			score := embedder.CosineSimilarity(embeddings[i], repEmbeddings[c.ID])
			if score > bestScore || (score == bestScore && c.ID < bestID) {
				bestScore = score
				bestID = c.ID
			}
		}
		if bestID != "" && bestScore >= threshold {
			members[bestID] = append(members[bestID], r.agentID)
			continue
		}
		newID := fmt.Sprintf("cluster-%d", len(clusters))
		clusters = append(clusters, models.Cluster{ID: newID, RepresentativeID: r.agentID, CentroidEmbedding: embeddings[i]})
		members[newID] = []string{r.agentID}
		repEmbeddings[newID] = embeddings[i]
	}

	for i := range clusters {
		clusters[i].MemberIDs = members[clusters[i].ID]
	}
	return clusters, members
}

// clusterLexical is the degraded-mode fallback using Jaccard similarity
// against each cluster's representative text.
func clusterLexical(recs []recommendation, threshold float64) ([]models.Cluster, map[string][]string) {
	var clusters []models.Cluster
	members := map[string][]string{}
	repText := map[string]string{}

	for _, r := range recs {
		bestID := ""
		bestScore := -1.0
		for _, c := range clusters {
			score := jaccardSimilarity(r.text, repText[c.ID])
			if score > bestScore || (score == bestScore && c.ID < bestID) {
				bestScore = score
				bestID = c.ID
			}
		}
		if bestID != "" && bestScore >= threshold {
			members[bestID] = append(members[bestID], r.agentID)
			continue
		}
		newID := fmt.Sprintf("cluster-%d", len(clusters))
		clusters = append(clusters, models.Cluster{ID: newID, RepresentativeID: r.agentID})
		members[newID] = []string{r.agentID}
		repText[newID] = r.text
	}

	for i := range clusters {
		clusters[i].MemberIDs = members[clusters[i].ID]
	}
	return clusters, members
}

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

func buildNarrative(recs []recommendation, clusters []models.Cluster, members map[string][]string, debateResults *models.DebateResults, critiqueResults *models.CritiqueResults, verification *models.VerificationResults) (string, []string, []string) {
	var b strings.Builder
	recByAgent := map[string]recommendation{}
	for _, r := range recs {
		recByAgent[r.agentID] = r
	}

	if len(clusters) > 0 {
		majority := clusters[0]
		fmt.Fprintf(&b, "Consensus position (%d of %d agents): %s. ", len(majority.MemberIDs), len(recs), recByAgent[majority.RepresentativeID].text)
		for _, c := range clusters[1:] {
			fmt.Fprintf(&b, "Dissenting view from %s: %s. ", strings.Join(c.MemberIDs, ", "), recByAgent[c.RepresentativeID].text)
		}
	}

	var unresolvedFlags []string
	if debateResults != nil {
		for _, res := range debateResults.Resolutions {
			if res.Action == models.ActionFlagForReview {
				unresolvedFlags = append(unresolvedFlags, res.Explanation)
			}
		}
		if len(unresolvedFlags) > 0 {
			fmt.Fprintf(&b, "Unresolved disagreements flagged for review: %s. ", strings.Join(unresolvedFlags, "; "))
		}
	}

	if critiqueResults != nil && len(critiqueResults.Items) > 0 {
		fmt.Fprintf(&b, "Critique: %s. ", critiqueResults.OverallAssessment)
	}

	var unbackedNumbers []string
	if verification != nil {
		for _, v := range verification.Violations {
			if v.Category == models.CategoryNumericFabrication {
				unbackedNumbers = append(unbackedNumbers, v.Detail)
			}
		}
		if len(verification.Violations) > 0 {
			fmt.Fprintf(&b, "Verifier raised %d issue(s) across %d citation, %d numeric, %d freshness checks. ",
				len(verification.Violations), verification.Counts[models.CategoryCitation],
				verification.Counts[models.CategoryNumericFabrication], verification.Counts[models.CategoryFreshness])
		}
	}

	var lowConfidence []string
	for _, r := range recs {
		if r.report.Confidence < lowConfidenceFloor {
			lowConfidence = append(lowConfidence, fmt.Sprintf("%s (%.2f)", r.agentID, r.report.Confidence))
		}
	}
	if len(lowConfidence) > 0 {
		fmt.Fprintf(&b, "Low-confidence positions: %s.", strings.Join(lowConfidence, ", "))
	}

	return strings.TrimSpace(b.String()), unresolvedFlags, unbackedNumbers
}

// confidenceScore is the mean report confidence weighted by the size of
// each report's cluster, minus a penalty per high-severity contradiction.
func confidenceScore(reports []models.AgentReport, clusters []models.Cluster, members map[string][]string, debateResults *models.DebateResults) float64 {
	if len(reports) == 0 {
		return 0
	}
	sizeByAgent := map[string]float64{}
	for _, c := range clusters {
		size := float64(len(members[c.ID]))
		for _, id := range members[c.ID] {
			sizeByAgent[id] = size
		}
	}
	var weighted, totalWeight float64
	for _, r := range reports {
		w := sizeByAgent[r.AgentID]
		if w == 0 {
			w = 1
		}
		weighted += r.Confidence * w
		totalWeight += w
	}
	mean := weighted / totalWeight

	highSeverity := 0
	if debateResults != nil {
		for _, c := range debateResults.Contradictions {
			if c.Severity == models.SeverityHigh {
				highSeverity++
			}
		}
	}
	penalty := 0.05 * float64(highSeverity)
	confidence := mean - penalty
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
