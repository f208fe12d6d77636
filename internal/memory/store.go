// Package memory provides tenant-scoped tiered memory: episodic records of
// past interactions, semantic knowledge merged by concept, and procedural
// task patterns. Repeated successful episodes are consolidated into
// semantic knowledge.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/concierge/internal/storage"
)

// Config tunes the memory service.
type Config struct {
	// ConsolidationThreshold is the access count an episodic record needs
	// before it is eligible for consolidation.
	ConsolidationThreshold int
	// DecayHalfLifeHours controls the recency annotation decay.
	DecayHalfLifeHours float64
	// MinSemanticRelevance filters semantic query results.
	MinSemanticRelevance float64
	// EpisodicCacheSize and ProceduralCacheSize bound the per-key read caches.
	EpisodicCacheSize   int
	ProceduralCacheSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConsolidationThreshold: 5,
		DecayHalfLifeHours:     168,
		MinSemanticRelevance:   0.3,
		EpisodicCacheSize:      1000,
		ProceduralCacheSize:    10,
	}
}

// Store is the memory service. All operations require an agency id; the
// backend is the durable store and the caches are a read-side accelerator.
type Store struct {
	backend    Backend
	cfg        Config
	episodic   *episodicCache
	procedural *proceduralCache
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a memory Store over the given backend.
func New(backend Backend, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.ConsolidationThreshold == 0 {
		cfg.ConsolidationThreshold = def.ConsolidationThreshold
	}
	if cfg.DecayHalfLifeHours == 0 {
		cfg.DecayHalfLifeHours = def.DecayHalfLifeHours
	}
	if cfg.MinSemanticRelevance == 0 {
		cfg.MinSemanticRelevance = def.MinSemanticRelevance
	}
	if cfg.EpisodicCacheSize == 0 {
		cfg.EpisodicCacheSize = def.EpisodicCacheSize
	}
	if cfg.ProceduralCacheSize == 0 {
		cfg.ProceduralCacheSize = def.ProceduralCacheSize
	}
	return &Store{
		backend:    backend,
		cfg:        cfg,
		episodic:   newEpisodicCache(cfg.EpisodicCacheSize),
		procedural: newProceduralCache(cfg.ProceduralCacheSize),
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// StoreEpisodic persists an episodic record. The record is appended as-is;
// consolidation count always starts at zero.
func (s *Store) StoreEpisodic(ctx context.Context, rec EpisodicRecord) (EpisodicRecord, error) {
	if rec.AgencyID == "" {
		return EpisodicRecord{}, ErrNoAgency
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.ConsolidationCount = 0
	rec.Importance = clampUnit(rec.Importance)

	if err := s.backend.InsertEpisodic(ctx, rec); err != nil {
		return EpisodicRecord{}, fmt.Errorf("storing episodic record: %w", err)
	}
	s.episodic.add(rec.AgencyID, rec.UserID, rec)
	return rec, nil
}

// QueryEpisodic returns records ordered by importance then recency, each
// annotated with a per-query relevance score and a recency score. Access
// counts for returned records are bumped best-effort.
func (s *Store) QueryEpisodic(ctx context.Context, agencyID string, q EpisodicQuery) ([]AnnotatedEpisodic, error) {
	if agencyID == "" {
		return nil, ErrNoAgency
	}

	records, err := s.backend.QueryEpisodic(ctx, agencyID, storage.EpisodicFilter{
		UserID: q.UserID,
		Since:  q.Since,
		Until:  q.Until,
		Limit:  q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("querying episodic memories: %w", err)
	}

	terms := queryTerms(q.Text)
	now := s.now()

	annotated := make([]AnnotatedEpisodic, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		annotated = append(annotated, AnnotatedEpisodic{
			EpisodicRecord: rec,
			RelevanceScore: termMatchScore(rec.Content, terms),
			RecencyScore:   math.Exp(-now.Sub(rec.CreatedAt).Hours() / s.cfg.DecayHalfLifeHours),
		})
		ids = append(ids, rec.ID)
	}

	// Access tracking is a separate write with no transactional tie to the
	// read; failure is logged and accepted.
	if err := s.backend.IncrementEpisodicAccess(ctx, agencyID, ids); err != nil {
		s.logger.Warn("episodic access tracking failed", "agency_id", agencyID, "error", err)
	}

	return annotated, nil
}

// StoreSemantic merges the record into the existing row for its natural key
// (agency, concept, category), or inserts a new one. Merging unions facts,
// averages the strength of matching relationship edges, appends new edges,
// and keeps the maximum confidence.
func (s *Store) StoreSemantic(ctx context.Context, rec SemanticRecord) (SemanticRecord, error) {
	if rec.AgencyID == "" {
		return SemanticRecord{}, ErrNoAgency
	}
	if rec.Concept == "" {
		return SemanticRecord{}, fmt.Errorf("semantic record requires a concept")
	}
	rec.Confidence = clampUnit(rec.Confidence)
	rec.UpdatedAt = s.now()

	existing, err := s.backend.GetSemanticByKey(ctx, rec.AgencyID, rec.Concept, rec.Category)
	switch {
	case err == nil:
		rec = mergeSemantic(existing, rec)
	case errors.Is(err, storage.ErrNotFound):
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
	default:
		return SemanticRecord{}, fmt.Errorf("loading semantic record for merge: %w", err)
	}

	if err := s.backend.PutSemantic(ctx, rec); err != nil {
		return SemanticRecord{}, fmt.Errorf("storing semantic record: %w", err)
	}
	return rec, nil
}

// mergeSemantic folds incoming into existing, preserving the existing ID.
func mergeSemantic(existing, incoming SemanticRecord) SemanticRecord {
	merged := existing
	merged.UpdatedAt = incoming.UpdatedAt

	seen := make(map[string]bool, len(existing.Facts))
	for _, f := range existing.Facts {
		seen[f] = true
	}
	for _, f := range incoming.Facts {
		if !seen[f] {
			merged.Facts = append(merged.Facts, f)
			seen[f] = true
		}
	}

	for _, edge := range incoming.Relationships {
		matched := false
		for i, have := range merged.Relationships {
			if have.Concept == edge.Concept && have.Relation == edge.Relation {
				merged.Relationships[i].Strength = (have.Strength + edge.Strength) / 2
				matched = true
				break
			}
		}
		if !matched {
			merged.Relationships = append(merged.Relationships, edge)
		}
	}

	if incoming.Confidence > merged.Confidence {
		merged.Confidence = incoming.Confidence
	}
	return merged
}

// QuerySemantic ranks an agency's knowledge by confidence and annotates
// relevance: full confidence on a concept match, 0.8x confidence on a fact
// match, a 0.1 floor otherwise. Results under MinRelevance are dropped.
func (s *Store) QuerySemantic(ctx context.Context, agencyID string, q SemanticQuery) ([]AnnotatedSemantic, error) {
	if agencyID == "" {
		return nil, ErrNoAgency
	}

	minRelevance := q.MinRelevance
	if minRelevance == 0 {
		minRelevance = s.cfg.MinSemanticRelevance
	}

	records, err := s.backend.QuerySemantic(ctx, agencyID, 0)
	if err != nil {
		return nil, fmt.Errorf("querying semantic memories: %w", err)
	}

	terms := queryTerms(q.Text)

	var results []AnnotatedSemantic
	for _, rec := range records {
		score := semanticRelevance(rec, terms)
		if score < minRelevance {
			continue
		}
		results = append(results, AnnotatedSemantic{SemanticRecord: rec, RelevanceScore: score})
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
	}
	return results, nil
}

func semanticRelevance(rec SemanticRecord, terms []string) float64 {
	if len(terms) == 0 {
		return rec.Confidence
	}
	concept := strings.ToLower(rec.Concept)
	for _, t := range terms {
		if strings.Contains(concept, t) {
			return rec.Confidence
		}
	}
	for _, fact := range rec.Facts {
		lower := strings.ToLower(fact)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				return 0.8 * rec.Confidence
			}
		}
	}
	return 0.1
}

// StoreProcedural appends a procedural record; invocations are never merged.
func (s *Store) StoreProcedural(ctx context.Context, rec ProceduralRecord) (ProceduralRecord, error) {
	if rec.AgencyID == "" {
		return ProceduralRecord{}, ErrNoAgency
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.SuccessRate = clampUnit(rec.SuccessRate)

	if err := s.backend.InsertProcedural(ctx, rec); err != nil {
		return ProceduralRecord{}, fmt.Errorf("storing procedural record: %w", err)
	}
	s.procedural.add(rec.AgencyID, rec.TaskType, rec)
	return rec, nil
}

// QueryProcedural returns patterns for the exact task type, ordered by
// success rate then usage count.
func (s *Store) QueryProcedural(ctx context.Context, agencyID, taskType string, limit int) ([]ProceduralRecord, error) {
	if agencyID == "" {
		return nil, ErrNoAgency
	}
	records, err := s.backend.QueryProcedural(ctx, agencyID, taskType, limit)
	if err != nil {
		return nil, fmt.Errorf("querying procedural memories: %w", err)
	}
	return records, nil
}

// Query runs a combined lookup across all three tiers.
func (s *Store) Query(ctx context.Context, agencyID string, q Query) (Results, error) {
	if agencyID == "" {
		return Results{}, ErrNoAgency
	}

	episodic, err := s.QueryEpisodic(ctx, agencyID, EpisodicQuery{Text: q.Text, UserID: q.UserID, Limit: q.Limit})
	if err != nil {
		return Results{}, err
	}

	semantic, err := s.QuerySemantic(ctx, agencyID, SemanticQuery{Text: q.Text, Limit: q.Limit})
	if err != nil {
		return Results{}, err
	}

	var procedural []ProceduralRecord
	if q.TaskType != "" {
		procedural, err = s.QueryProcedural(ctx, agencyID, q.TaskType, q.Limit)
		if err != nil {
			return Results{}, err
		}
	}

	return Results{Episodic: episodic, Semantic: semantic, Procedural: procedural}, nil
}

// CachedEpisodic returns the cached recent records for a user without
// touching the backend. Used for cheap context sourcing.
func (s *Store) CachedEpisodic(agencyID, userID string) []EpisodicRecord {
	return s.episodic.get(agencyID, userID)
}

// CachedProcedural returns the cached best patterns for a task type.
func (s *Store) CachedProcedural(agencyID, taskType string) []ProceduralRecord {
	return s.procedural.get(agencyID, taskType)
}

// queryTerms lowercases and splits query text, dropping short words.
func queryTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

// termMatchScore is the fraction of query terms substring-matched in
// content, capped at 1.0.
func termMatchScore(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	score := float64(matched) / float64(len(terms))
	if score > 1 {
		score = 1
	}
	return score
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
