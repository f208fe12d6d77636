package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EpisodicRecord is a single remembered interaction. Append-only; only the
// consolidation process mutates existing rows (consolidation marking).
type EpisodicRecord struct {
	ID                 string
	AgencyID           string
	UserID             string
	InteractionType    string
	Content            string
	Outcome            string
	Importance         float64
	ConsolidationCount int
	AccessCount        int
	CreatedAt          time.Time
}

// Relationship is a weighted edge from one semantic concept to another.
type Relationship struct {
	Concept  string  `json:"concept"`
	Relation string  `json:"relation"`
	Strength float64 `json:"strength"`
}

// SemanticRecord is durable knowledge keyed by (agency, concept, category).
// Writes merge into the existing row for that natural key.
type SemanticRecord struct {
	ID            string
	AgencyID      string
	Concept       string
	Category      string
	Facts         []string
	Relationships []Relationship
	Confidence    float64
	UpdatedAt     time.Time
}

// ProceduralRecord captures a learned task execution pattern. Append-only
// per invocation; no merge.
type ProceduralRecord struct {
	ID              string
	AgencyID        string
	TaskType        string
	Pattern         string
	Steps           []string
	SuccessRate     float64
	AverageDuration time.Duration
	UsageCount      int
	CreatedAt       time.Time
}

// EpisodicFilter narrows an episodic query. Zero values mean "no constraint".
type EpisodicFilter struct {
	UserID             string
	InteractionType    string
	Outcome            string
	Since              time.Time
	Until              time.Time
	MinAccessCount     int
	OnlyUnconsolidated bool
	Limit              int
}
