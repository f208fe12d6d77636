package coordinator

import (
	"context"
	"time"

	"github.com/kalambet/concierge/internal/assembler"
	"github.com/kalambet/concierge/internal/memory"
)

// MemorySource adapts episodic memory into context chunks for per-task
// prompt enrichment.
type MemorySource struct {
	store    *memory.Store
	agencyID string
	userID   string
	limit    int
	timeout  time.Duration
}

// NewMemorySource creates a source scoped to one agency and user.
func NewMemorySource(store *memory.Store, agencyID, userID string) *MemorySource {
	return &MemorySource{
		store:    store,
		agencyID: agencyID,
		userID:   userID,
		limit:    20,
		timeout:  5 * time.Second,
	}
}

// Chunks queries episodic memory for the given text and converts the
// annotated records into assembler chunks.
func (m *MemorySource) Chunks(ctx context.Context, query string, qc assembler.QueryContext) ([]assembler.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	userID := m.userID
	if qc.UserID != "" {
		userID = qc.UserID
	}

	records, err := m.store.QueryEpisodic(ctx, m.agencyID, memory.EpisodicQuery{
		Text:   query,
		UserID: userID,
		Limit:  m.limit,
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]assembler.Chunk, len(records))
	for i, rec := range records {
		chunks[i] = assembler.Chunk{
			ID:         rec.ID,
			Content:    rec.Content,
			Source:     "episodic_memory",
			Relevance:  rec.RelevanceScore,
			TokenCount: assembler.EstimateTokens(rec.Content),
			Timestamp:  rec.CreatedAt,
		}
	}
	return chunks, nil
}
