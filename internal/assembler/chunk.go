package assembler

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidBudget is returned when a ContextBudget fails validation.
var ErrInvalidBudget = errors.New("invalid context budget")

// Chunk is a candidate context fragment flowing through the assembly
// pipeline. Relevance is mutable: scoring, diversity filtering, and
// optimization passes all rewrite it.
type Chunk struct {
	ID         string
	Content    string
	Source     string
	Relevance  float64
	TokenCount int
	Timestamp  time.Time
	Metadata   map[string]any
}

// Turn is a single conversation history entry.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Urgency classifies how time-critical a query is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// QueryContext carries everything known about the incoming query.
type QueryContext struct {
	Query     string
	UserID    string
	SessionID string
	History   []Turn
	Domain    string
	Urgency   Urgency
}

// Weights are the per-dimension priorities used when combining chunk
// sub-scores. They are expected to sum to roughly 1.0 but are not
// normalized; callers tune them per budget.
type Weights struct {
	Relevance float64
	Recency   float64
	Diversity float64
	Authority float64
}

// Budget bounds the assembled context size. MaxTokens is a hard cap,
// TargetTokens the preferred size, MinTokens the floor below which the
// selector keeps appending chunks even past the target.
type Budget struct {
	MaxTokens    int
	TargetTokens int
	MinTokens    int
	Weights      Weights
}

// DefaultBudget returns the budget used when the caller passes nil.
func DefaultBudget() Budget {
	return Budget{
		MaxTokens:    4000,
		TargetTokens: 3000,
		MinTokens:    500,
		Weights:      Weights{Relevance: 0.4, Recency: 0.25, Diversity: 0.15, Authority: 0.2},
	}
}

// Validate checks the budget ordering invariant maxTokens >= targetTokens >= minTokens.
func (b Budget) Validate() error {
	if b.MaxTokens <= 0 {
		return fmt.Errorf("%w: maxTokens must be positive, got %d", ErrInvalidBudget, b.MaxTokens)
	}
	if b.TargetTokens > b.MaxTokens {
		return fmt.Errorf("%w: targetTokens %d exceeds maxTokens %d", ErrInvalidBudget, b.TargetTokens, b.MaxTokens)
	}
	if b.MinTokens > b.TargetTokens {
		return fmt.Errorf("%w: minTokens %d exceeds targetTokens %d", ErrInvalidBudget, b.MinTokens, b.TargetTokens)
	}
	if b.MinTokens < 0 {
		return fmt.Errorf("%w: minTokens must not be negative, got %d", ErrInvalidBudget, b.MinTokens)
	}
	return nil
}

// Meta captures diagnostic information about an assembly or optimization pass.
type Meta struct {
	Duration      time.Duration
	StagesApplied []string
	ChunksPruned  int
	ChunksDemoted int
	ChunksTrimmed int
}

// OptimizedContext is the final, budget-constrained selection.
type OptimizedContext struct {
	Chunks           []Chunk
	TotalTokens      int
	CompressionRatio float64
	Relevance        float64
	Strategy         string
	Meta             Meta
}

// EstimateTokens provides a rough token count using the 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func totalTokens(chunks []Chunk) int {
	sum := 0
	for _, c := range chunks {
		sum += c.TokenCount
	}
	return sum
}

func meanRelevance(chunks []Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range chunks {
		sum += c.Relevance
	}
	return sum / float64(len(chunks))
}
