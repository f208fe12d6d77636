package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/concierge/internal/agent"
	"github.com/kalambet/concierge/internal/assembler"
	"github.com/kalambet/concierge/internal/llm"
)

const failureAnswer = "Unable to complete the task: all subtasks failed."

// Coordinator decomposes a task into a plan, executes it wave by wave,
// and synthesizes a final answer from the subtask results.
type Coordinator struct {
	registry  *agent.Registry
	client    llm.Client
	assembler *assembler.Assembler
	chunks    ChunkSource
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Coordinator. A nil logger falls back to slog.Default.
func New(registry *agent.Registry, client llm.Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry: registry,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

// WithContextAssembly enables per-task prompt enrichment: before each
// subtask runs, chunks for its description are fetched from src and
// assembled under the default budget.
func (c *Coordinator) WithContextAssembly(a *assembler.Assembler, src ChunkSource) *Coordinator {
	c.assembler = a
	c.chunks = src
	return c
}

// Coordinate runs the full pipeline for mainTask: complexity analysis,
// decomposition, wave execution, and synthesis. Individual task failures
// never abort the plan; the worst case is a degraded Outcome with
// confidence 0.
func (c *Coordinator) Coordinate(ctx context.Context, mainTask string, qc assembler.QueryContext, opts *Options) (Outcome, error) {
	start := c.now()

	o := DefaultOptions()
	if opts != nil {
		if opts.MaxParallelTasks > 0 {
			o.MaxParallelTasks = opts.MaxParallelTasks
		}
		if opts.Timeout > 0 {
			o.Timeout = opts.Timeout
		}
		if opts.RiskTolerance != "" {
			o.RiskTolerance = opts.RiskTolerance
		}
	}

	complexity := analyzeComplexity(mainTask, qc)
	tasks := decompose(mainTask, complexity)
	waves, err := computeWaves(tasks)
	if err != nil {
		return Outcome{}, fmt.Errorf("computing execution waves: %w", err)
	}
	risk, fallbacks := assessRisk(tasks, qc.Urgency)

	plan := Plan{
		ID:                uuid.NewString(),
		MainTask:          mainTask,
		Complexity:        complexity,
		Tasks:             tasks,
		Waves:             waves,
		EstimatedDuration: estimateDuration(waves, o.Timeout),
		RiskLevel:         risk,
		Fallbacks:         fallbacks,
	}

	c.logger.Info("coordinating task",
		"complexity", complexity,
		"tasks", len(tasks),
		"waves", len(waves),
		"risk", risk)

	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	results := make(map[string]Result, len(tasks))
	var mu sync.Mutex

	for _, wave := range waves {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.MaxParallelTasks)

		for _, id := range wave {
			task := byID[id]
			g.Go(func() error {
				res := c.runTask(gctx, task, qc, results, &mu, o.Timeout)
				mu.Lock()
				results[task.ID] = res
				mu.Unlock()
				// Failures stay in the result set; siblings keep running.
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Outcome{}, err
		}
	}

	ordered := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		ordered = append(ordered, results[t.ID])
	}

	answer, confidence := c.synthesize(ctx, mainTask, tasks, ordered, o.Timeout)

	return Outcome{
		Plan:           plan,
		Results:        ordered,
		FinalAnswer:    answer,
		Confidence:     confidence,
		ProcessingTime: c.now().Sub(start),
	}, nil
}

// runTask executes one task against its agent, retrying transient failures
// up to the task's MaxRetries. An unavailable agent is terminal.
func (c *Coordinator) runTask(ctx context.Context, task Task, qc assembler.QueryContext, prior map[string]Result, mu *sync.Mutex, timeout time.Duration) Result {
	start := c.now()

	profile, err := c.registry.Get(task.Type.AgentID())
	if err != nil {
		c.logger.Warn("task has no available agent", "task", task.ID, "type", task.Type, "error", err)
		return Result{
			TaskID:   task.ID,
			AgentID:  task.Type.AgentID(),
			Status:   StatusFailure,
			Error:    err.Error(),
			Duration: c.now().Sub(start),
		}
	}

	prompt := c.buildPrompt(ctx, task, qc, prior, mu)

	var lastErr error
	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{
				TaskID:   task.ID,
				AgentID:  profile.ID,
				Status:   StatusCancelled,
				Error:    err.Error(),
				Duration: c.now().Sub(start),
				Retries:  attempt,
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := c.client.Complete(callCtx, llm.Request{
			System:      fmt.Sprintf(profile.PromptTemplate, task.Description),
			Prompt:      prompt,
			Model:       profile.Model,
			Temperature: profile.Temperature,
			MaxTokens:   profile.MaxTokens,
		})
		cancel()

		if err == nil {
			return Result{
				TaskID:     task.ID,
				AgentID:    profile.ID,
				Status:     StatusSuccess,
				Output:     resp.Text,
				Confidence: extractConfidence(resp.Text),
				TokensUsed: resp.TokensUsed,
				Duration:   c.now().Sub(start),
				Retries:    attempt,
			}
		}

		lastErr = err
		c.logger.Warn("task attempt failed",
			"task", task.ID,
			"agent", profile.ID,
			"attempt", attempt,
			"error", err)
	}

	status := StatusFailure
	if errors.Is(lastErr, context.DeadlineExceeded) {
		status = StatusTimeout
	}
	return Result{
		TaskID:   task.ID,
		AgentID:  profile.ID,
		Status:   status,
		Error:    fmt.Sprintf("after %d retries: %v", task.MaxRetries, lastErr),
		Duration: c.now().Sub(start),
		Retries:  task.MaxRetries,
	}
}

// buildPrompt combines the task description, outputs of completed
// dependencies, and (when configured) assembled context chunks.
func (c *Coordinator) buildPrompt(ctx context.Context, task Task, qc assembler.QueryContext, prior map[string]Result, mu *sync.Mutex) string {
	var b strings.Builder
	b.WriteString(task.Description)

	mu.Lock()
	for _, dep := range task.DependsOn {
		if res, ok := prior[dep]; ok && res.Status == StatusSuccess {
			b.WriteString("\n\nPrior result:\n")
			b.WriteString(res.Output)
		}
	}
	mu.Unlock()

	if c.assembler != nil && c.chunks != nil {
		chunks, err := c.chunks.Chunks(ctx, task.Description, qc)
		if err != nil {
			c.logger.Warn("context fetch failed", "task", task.ID, "error", err)
			return b.String()
		}
		taskQC := qc
		taskQC.Query = task.Description
		assembled, err := c.assembler.Assemble(chunks, taskQC, nil)
		if err != nil {
			c.logger.Warn("context assembly failed", "task", task.ID, "error", err)
			return b.String()
		}
		if len(assembled.Chunks) > 0 {
			b.WriteString("\n\nRelevant context:")
			for _, ch := range assembled.Chunks {
				b.WriteString("\n- ")
				b.WriteString(ch.Content)
			}
		}
	}

	return b.String()
}

// synthesize produces the final answer and overall confidence from the
// terminal results.
func (c *Coordinator) synthesize(ctx context.Context, mainTask string, tasks []Task, results []Result, timeout time.Duration) (string, float64) {
	typeByID := make(map[string]TaskType, len(tasks))
	for _, t := range tasks {
		typeByID[t.ID] = t.Type
	}

	var successes []Result
	for _, r := range results {
		if r.Status == StatusSuccess {
			successes = append(successes, r)
		}
	}

	switch len(successes) {
	case 0:
		return failureAnswer, 0
	case 1:
		return successes[0].Output, overallConfidence(successes, typeByID)
	}

	confidence := overallConfidence(successes, typeByID)

	answer, err := c.synthesizeMany(ctx, mainTask, successes, timeout)
	if err != nil {
		c.logger.Warn("synthesis failed, falling back to best single result", "error", err)
		best := successes[0]
		for _, r := range successes[1:] {
			if r.Confidence > best.Confidence {
				best = r
			}
		}
		return best.Output, confidence
	}
	return answer, confidence
}

func (c *Coordinator) synthesizeMany(ctx context.Context, mainTask string, successes []Result, timeout time.Duration) (string, error) {
	profile, err := c.registry.Get(TaskSynthesize.AgentID())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %s\n\nSubtask results:\n", mainTask)
	for i, r := range successes {
		fmt.Fprintf(&b, "\n%d. (confidence %.2f)\n%s\n", i+1, r.Confidence, r.Output)
	}

	var lastErr error
	for attempt := 0; attempt <= 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := c.client.Complete(callCtx, llm.Request{
			System:      fmt.Sprintf(profile.PromptTemplate, mainTask),
			Prompt:      b.String(),
			Model:       profile.Model,
			Temperature: profile.Temperature,
			MaxTokens:   profile.MaxTokens,
		})
		cancel()
		if err == nil {
			return resp.Text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

var confidencePattern = regexp.MustCompile(`(?i)confidence:\s*([0-9]*\.?[0-9]+)`)

var hedgingPhrases = []string{
	"might", "maybe", "possibly", "perhaps", "not sure", "unclear", "uncertain",
}

var assertivePhrases = []string{
	"definitely", "certainly", "confirmed", "verified", "clearly",
}

// extractConfidence reads an explicit "confidence: X" marker from the
// output, or estimates one from hedging and assertive language.
func extractConfidence(output string) float64 {
	if m := confidencePattern.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if v > 1 {
				v /= 100
			}
			return clampRange(v, 0, 1)
		}
	}

	lower := strings.ToLower(output)
	confidence := 0.7
	for _, p := range hedgingPhrases {
		if strings.Contains(lower, p) {
			confidence -= 0.2
			break
		}
	}
	for _, p := range assertivePhrases {
		if strings.Contains(lower, p) {
			confidence += 0.1
			break
		}
	}
	return clampRange(confidence, 0.3, 1.0)
}

var typeWeights = map[TaskType]float64{
	TaskSearch:     0.3,
	TaskAnalyze:    0.3,
	TaskSynthesize: 0.25,
	TaskValidate:   0.15,
	TaskExecute:    0.2,
}

// overallConfidence is the type-weighted average of successful task
// confidences, clamped to [0, 1].
func overallConfidence(successes []Result, typeByID map[string]TaskType) float64 {
	if len(successes) == 0 {
		return 0
	}

	var weighted, total float64
	for _, r := range successes {
		w, ok := typeWeights[typeByID[r.TaskID]]
		if !ok {
			w = 0.25
		}
		weighted += w * r.Confidence
		total += w
	}
	if total == 0 {
		return 0
	}
	return clampRange(weighted/total, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
