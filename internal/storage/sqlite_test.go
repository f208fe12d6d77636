package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func episodicFixture(agencyID, userID string, i int) EpisodicRecord {
	return EpisodicRecord{
		ID:              fmt.Sprintf("%s-ep-%d", agencyID, i),
		AgencyID:        agencyID,
		UserID:          userID,
		InteractionType: "booking_inquiry",
		Content:         fmt.Sprintf("client asked about hotel %d availability", i),
		Outcome:         "success",
		Importance:      0.5,
		CreatedAt:       time.Date(2026, 2, 1, 10, i, 0, 0, time.UTC),
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestEpisodic_InsertAndQueryOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []EpisodicRecord{
		{ID: "e1", AgencyID: "a1", UserID: "u1", InteractionType: "chat", Content: "old important", Outcome: "success", Importance: 0.9, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "e2", AgencyID: "a1", UserID: "u1", InteractionType: "chat", Content: "new important", Outcome: "success", Importance: 0.9, CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "e3", AgencyID: "a1", UserID: "u1", InteractionType: "chat", Content: "less important", Outcome: "failure", Importance: 0.4, CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, r := range recs {
		if err := s.InsertEpisodic(ctx, r); err != nil {
			t.Fatalf("InsertEpisodic(%s): %v", r.ID, err)
		}
	}

	got, err := s.QueryEpisodic(ctx, "a1", EpisodicFilter{})
	if err != nil {
		t.Fatalf("QueryEpisodic: %v", err)
	}

	wantOrder := []string{"e2", "e1", "e3"} // importance desc, then recency desc
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d records, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("result[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestEpisodic_TimeRangeFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.InsertEpisodic(ctx, episodicFixture("a1", "u1", i)); err != nil {
			t.Fatalf("InsertEpisodic: %v", err)
		}
	}

	got, err := s.QueryEpisodic(ctx, "a1", EpisodicFilter{
		Since: time.Date(2026, 2, 1, 10, 2, 0, 0, time.UTC),
		Until: time.Date(2026, 2, 1, 10, 3, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("QueryEpisodic: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records in range, want 2", len(got))
	}
}

func TestEpisodic_TenantIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertEpisodic(ctx, episodicFixture("agency-a", "u1", 0)); err != nil {
		t.Fatalf("InsertEpisodic: %v", err)
	}
	if err := s.InsertEpisodic(ctx, episodicFixture("agency-b", "u1", 1)); err != nil {
		t.Fatalf("InsertEpisodic: %v", err)
	}

	got, err := s.QueryEpisodic(ctx, "agency-a", EpisodicFilter{})
	if err != nil {
		t.Fatalf("QueryEpisodic: %v", err)
	}
	for _, r := range got {
		if r.AgencyID != "agency-a" {
			t.Errorf("cross-tenant leak: got record for agency %s", r.AgencyID)
		}
	}
	if len(got) != 1 {
		t.Errorf("got %d records for agency-a, want 1", len(got))
	}
}

func TestEpisodic_AccessAndConsolidationMarking(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertEpisodic(ctx, episodicFixture("a1", "u1", 0)); err != nil {
		t.Fatalf("InsertEpisodic: %v", err)
	}

	for n := 0; n < 3; n++ {
		if err := s.IncrementEpisodicAccess(ctx, "a1", []string{"a1-ep-0"}); err != nil {
			t.Fatalf("IncrementEpisodicAccess: %v", err)
		}
	}
	if err := s.MarkEpisodicConsolidated(ctx, "a1", []string{"a1-ep-0"}); err != nil {
		t.Fatalf("MarkEpisodicConsolidated: %v", err)
	}

	got, err := s.QueryEpisodic(ctx, "a1", EpisodicFilter{})
	if err != nil {
		t.Fatalf("QueryEpisodic: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].AccessCount != 3 {
		t.Errorf("AccessCount = %d, want 3", got[0].AccessCount)
	}
	if got[0].ConsolidationCount != 1 {
		t.Errorf("ConsolidationCount = %d, want 1", got[0].ConsolidationCount)
	}

	// Marking from the wrong tenant must not touch the row.
	if err := s.MarkEpisodicConsolidated(ctx, "other-agency", []string{"a1-ep-0"}); err != nil {
		t.Fatalf("MarkEpisodicConsolidated: %v", err)
	}
	got, _ = s.QueryEpisodic(ctx, "a1", EpisodicFilter{})
	if got[0].ConsolidationCount != 1 {
		t.Errorf("cross-tenant consolidation mark succeeded: count = %d", got[0].ConsolidationCount)
	}
}

func TestSemantic_UpsertByNaturalKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := SemanticRecord{
		ID: "s1", AgencyID: "a1", Concept: "beach hotels", Category: "destination",
		Facts:      []string{"A"},
		Confidence: 0.6,
		UpdatedAt:  time.Now(),
	}
	if err := s.PutSemantic(ctx, first); err != nil {
		t.Fatalf("PutSemantic: %v", err)
	}

	second := first
	second.ID = "s2"
	second.Facts = []string{"A", "B"}
	second.Confidence = 0.8
	if err := s.PutSemantic(ctx, second); err != nil {
		t.Fatalf("PutSemantic (upsert): %v", err)
	}

	got, err := s.GetSemanticByKey(ctx, "a1", "beach hotels", "destination")
	if err != nil {
		t.Fatalf("GetSemanticByKey: %v", err)
	}
	if len(got.Facts) != 2 {
		t.Errorf("Facts = %v, want 2 entries", got.Facts)
	}
	if got.Confidence != 0.8 {
		t.Errorf("Confidence = %g, want 0.8", got.Confidence)
	}

	all, err := s.QuerySemantic(ctx, "a1", 0)
	if err != nil {
		t.Fatalf("QuerySemantic: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d rows, want 1 (upsert must not duplicate)", len(all))
	}
}

func TestSemantic_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSemanticByKey(context.Background(), "a1", "nope", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSemantic_TenantIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := SemanticRecord{
		ID: "s1", AgencyID: "agency-a", Concept: "visa rules", Category: "regulation",
		Facts: []string{"passport required"}, Confidence: 0.9, UpdatedAt: time.Now(),
	}
	if err := s.PutSemantic(ctx, rec); err != nil {
		t.Fatalf("PutSemantic: %v", err)
	}

	if _, err := s.GetSemanticByKey(ctx, "agency-b", "visa rules", "regulation"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant read returned err = %v, want ErrNotFound", err)
	}
	got, err := s.QuerySemantic(ctx, "agency-b", 0)
	if err != nil {
		t.Fatalf("QuerySemantic: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("cross-tenant query returned %d rows, want 0", len(got))
	}
}

func TestProcedural_AppendOnlyAndOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []ProceduralRecord{
		{ID: "p1", AgencyID: "a1", TaskType: "booking", Pattern: "standard flow", Steps: []string{"search", "hold", "pay"}, SuccessRate: 0.7, UsageCount: 10, CreatedAt: time.Now()},
		{ID: "p2", AgencyID: "a1", TaskType: "booking", Pattern: "express flow", Steps: []string{"search", "pay"}, SuccessRate: 0.9, UsageCount: 3, CreatedAt: time.Now()},
		{ID: "p3", AgencyID: "a1", TaskType: "booking", Pattern: "legacy flow", Steps: []string{"phone"}, SuccessRate: 0.7, UsageCount: 20, CreatedAt: time.Now()},
		{ID: "p4", AgencyID: "a1", TaskType: "refund", Pattern: "refund flow", Steps: []string{"verify", "refund"}, SuccessRate: 1.0, UsageCount: 1, CreatedAt: time.Now()},
	}
	for _, r := range recs {
		if err := s.InsertProcedural(ctx, r); err != nil {
			t.Fatalf("InsertProcedural(%s): %v", r.ID, err)
		}
	}

	got, err := s.QueryProcedural(ctx, "a1", "booking", 0)
	if err != nil {
		t.Fatalf("QueryProcedural: %v", err)
	}

	wantOrder := []string{"p2", "p3", "p1"} // success rate desc, then usage count desc
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d records, want %d (exact task type match only)", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("result[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
	if len(got[0].Steps) != 2 {
		t.Errorf("Steps round-trip failed: %v", got[0].Steps)
	}
}
