package coordinator

import (
	"context"
	"time"

	"github.com/kalambet/concierge/internal/assembler"
)

// TaskType identifies which agent class handles a subtask.
type TaskType string

const (
	TaskSearch     TaskType = "search"
	TaskAnalyze    TaskType = "analyze"
	TaskSynthesize TaskType = "synthesize"
	TaskValidate   TaskType = "validate"
	TaskExecute    TaskType = "execute"
)

// AgentID returns the registry ID of the agent class for this task type.
func (t TaskType) AgentID() string {
	switch t {
	case TaskSearch:
		return "search-agent"
	case TaskAnalyze:
		return "analysis-agent"
	case TaskSynthesize:
		return "synthesis-agent"
	case TaskValidate:
		return "validation-agent"
	case TaskExecute:
		return "execution-agent"
	default:
		return string(t) + "-agent"
	}
}

// Complexity classifies how much decomposition a task needs.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Task is a single unit of work within a plan. Priority orders tasks for
// dispatch within a wave; lower runs first.
type Task struct {
	ID          string
	Type        TaskType
	Description string
	DependsOn   []string
	Priority    int
	RetryCount  int
	MaxRetries  int
}

// Status is the terminal state of an executed task.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Result records the outcome of one task execution.
type Result struct {
	TaskID     string
	AgentID    string
	Status     Status
	Output     string
	Confidence float64
	TokensUsed int
	Error      string
	Duration   time.Duration
	Retries    int
}

// Plan is the decomposed task graph plus its execution metadata.
type Plan struct {
	ID                string
	MainTask          string
	Complexity        Complexity
	Tasks             []Task
	Waves             [][]string
	EstimatedDuration time.Duration
	RiskLevel         string
	Fallbacks         []string
}

// Options tunes a single Coordinate invocation.
type Options struct {
	MaxParallelTasks int
	Timeout          time.Duration
	RiskTolerance    string
}

// DefaultOptions returns the coordinator defaults.
func DefaultOptions() Options {
	return Options{
		MaxParallelTasks: 3,
		Timeout:          30 * time.Second,
		RiskTolerance:    "medium",
	}
}

// Outcome is what Coordinate returns to the caller.
type Outcome struct {
	Plan           Plan
	Results        []Result
	FinalAnswer    string
	Confidence     float64
	ProcessingTime time.Duration
}

// ChunkSource supplies raw context chunks for per-task prompt enrichment.
type ChunkSource interface {
	Chunks(ctx context.Context, query string, qc assembler.QueryContext) ([]assembler.Chunk, error)
}
