package memory

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/concierge/internal/storage"
)

// ErrNoAgency is returned when a memory operation is attempted without a
// tenant. Every read and write is scoped to exactly one agency.
var ErrNoAgency = errors.New("agency id is required")

// Record kinds are the storage types; the service layer adds scoring
// annotations on top without persisting them.
type (
	EpisodicRecord   = storage.EpisodicRecord
	SemanticRecord   = storage.SemanticRecord
	ProceduralRecord = storage.ProceduralRecord
	Relationship     = storage.Relationship
)

// AnnotatedEpisodic is an episodic record with per-query scores attached.
type AnnotatedEpisodic struct {
	EpisodicRecord
	RelevanceScore float64
	RecencyScore   float64
}

// AnnotatedSemantic is a semantic record with its per-query relevance attached.
type AnnotatedSemantic struct {
	SemanticRecord
	RelevanceScore float64
}

// Backend is the persistent store collaborator. *storage.Store implements it;
// tests substitute fakes.
type Backend interface {
	InsertEpisodic(ctx context.Context, rec storage.EpisodicRecord) error
	QueryEpisodic(ctx context.Context, agencyID string, f storage.EpisodicFilter) ([]storage.EpisodicRecord, error)
	IncrementEpisodicAccess(ctx context.Context, agencyID string, ids []string) error
	MarkEpisodicConsolidated(ctx context.Context, agencyID string, ids []string) error

	GetSemanticByKey(ctx context.Context, agencyID, concept, category string) (storage.SemanticRecord, error)
	PutSemantic(ctx context.Context, rec storage.SemanticRecord) error
	QuerySemantic(ctx context.Context, agencyID string, limit int) ([]storage.SemanticRecord, error)

	InsertProcedural(ctx context.Context, rec storage.ProceduralRecord) error
	QueryProcedural(ctx context.Context, agencyID, taskType string, limit int) ([]storage.ProceduralRecord, error)
}

// EpisodicQuery narrows and scores an episodic memory lookup.
type EpisodicQuery struct {
	Text   string
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// SemanticQuery narrows a semantic memory lookup. MinRelevance of 0 uses
// the store default (0.3).
type SemanticQuery struct {
	Text         string
	MinRelevance float64
	Limit        int
}

// Query is a combined lookup across all three memory tiers.
type Query struct {
	Text     string
	UserID   string
	TaskType string
	Limit    int
}

// Results groups the annotated records returned by a combined query.
type Results struct {
	Episodic   []AnnotatedEpisodic
	Semantic   []AnnotatedSemantic
	Procedural []ProceduralRecord
}
