package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/concierge/internal/storage"
)

// consolidationConcepts is the keyword vocabulary used to cluster episodes.
// An episode whose content matches none of these clusters under its most
// frequent remaining word.
var consolidationConcepts = []string{
	"booking", "payment", "hotel", "flight", "client", "itinerary",
	"refund", "cancellation", "availability", "invoice", "commission",
	"transfer", "visa", "insurance",
}

// ConsolidationReport summarizes one consolidation run.
type ConsolidationReport struct {
	Eligible int
	Clusters int
	Promoted int
	Marked   int
}

// Consolidate promotes repeated successful episodic memories into semantic
// knowledge. Episodes with outcome "success" and at least
// ConsolidationThreshold accesses are clustered by a keyword heuristic; each
// cluster becomes one semantic store call, and the source rows are marked
// consolidated. Rerunning without new episodic writes is a no-op: only
// unconsolidated rows are eligible, and the semantic merge is idempotent.
func (s *Store) Consolidate(ctx context.Context, userID, agencyID string) (ConsolidationReport, error) {
	if agencyID == "" {
		return ConsolidationReport{}, ErrNoAgency
	}

	eligible, err := s.backend.QueryEpisodic(ctx, agencyID, storage.EpisodicFilter{
		UserID:             userID,
		Outcome:            "success",
		MinAccessCount:     s.cfg.ConsolidationThreshold,
		OnlyUnconsolidated: true,
	})
	if err != nil {
		return ConsolidationReport{}, fmt.Errorf("finding consolidation candidates: %w", err)
	}

	report := ConsolidationReport{Eligible: len(eligible)}
	if len(eligible) == 0 {
		return report, nil
	}

	clusters := clusterEpisodes(eligible)
	report.Clusters = len(clusters)

	for _, cluster := range clusters {
		rec := SemanticRecord{
			AgencyID:   agencyID,
			Concept:    cluster.concept,
			Category:   "consolidated",
			Facts:      cluster.facts(),
			Confidence: cluster.confidence(),
		}
		if _, err := s.StoreSemantic(ctx, rec); err != nil {
			return report, fmt.Errorf("promoting cluster %q: %w", cluster.concept, err)
		}
		report.Promoted++

		if err := s.backend.MarkEpisodicConsolidated(ctx, agencyID, cluster.ids()); err != nil {
			return report, fmt.Errorf("marking cluster %q consolidated: %w", cluster.concept, err)
		}
		report.Marked += len(cluster.episodes)
	}

	s.logger.Info("memory consolidation complete",
		"agency_id", agencyID,
		"user_id", userID,
		"eligible", report.Eligible,
		"clusters", report.Clusters,
		"promoted", report.Promoted,
	)
	return report, nil
}

type episodeCluster struct {
	concept  string
	episodes []EpisodicRecord
}

func (c episodeCluster) ids() []string {
	ids := make([]string, len(c.episodes))
	for i, e := range c.episodes {
		ids[i] = e.ID
	}
	return ids
}

// facts returns the distinct episode contents.
func (c episodeCluster) facts() []string {
	seen := make(map[string]bool, len(c.episodes))
	var facts []string
	for _, e := range c.episodes {
		if !seen[e.Content] {
			facts = append(facts, e.Content)
			seen[e.Content] = true
		}
	}
	return facts
}

// confidence grows with cluster size and mean importance, capped below 1.
func (c episodeCluster) confidence() float64 {
	sum := 0.0
	for _, e := range c.episodes {
		sum += e.Importance
	}
	mean := sum / float64(len(c.episodes))
	confidence := mean + 0.05*float64(len(c.episodes))
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

// clusterEpisodes groups episodes by their dominant concept keyword,
// returning clusters in deterministic concept order.
func clusterEpisodes(episodes []EpisodicRecord) []episodeCluster {
	grouped := make(map[string][]EpisodicRecord)
	for _, e := range episodes {
		concept := episodeConcept(e.Content)
		grouped[concept] = append(grouped[concept], e)
	}

	concepts := make([]string, 0, len(grouped))
	for concept := range grouped {
		concepts = append(concepts, concept)
	}
	sort.Strings(concepts)

	clusters := make([]episodeCluster, 0, len(concepts))
	for _, concept := range concepts {
		clusters = append(clusters, episodeCluster{concept: concept, episodes: grouped[concept]})
	}
	return clusters
}

// episodeConcept picks the vocabulary keyword with the most occurrences, or
// falls back to the most frequent word of 4+ characters.
func episodeConcept(content string) string {
	lower := strings.ToLower(content)

	best := ""
	bestCount := 0
	for _, concept := range consolidationConcepts {
		if count := strings.Count(lower, concept); count > bestCount {
			bestCount = count
			best = concept
		}
	}
	if best != "" {
		return best
	}

	counts := make(map[string]int)
	for _, w := range strings.Fields(lower) {
		if len(w) >= 4 {
			counts[w]++
		}
	}
	for w, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || w < best)) {
			bestCount = count
			best = w
		}
	}
	if best == "" {
		return "general"
	}
	return best
}
