package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/concierge/internal/assembler"
)

var researchVerbs = []string{
	"research", "compare", "analyze", "analyse", "evaluate", "investigate",
	"summarize", "summarise", "synthesize", "combine", "recommend",
}

// analyzeComplexity classifies a task with a cheap textual heuristic.
func analyzeComplexity(mainTask string, qc assembler.QueryContext) Complexity {
	lower := strings.ToLower(mainTask)
	words := len(strings.Fields(mainTask))
	questions := strings.Count(mainTask, "?")

	score := 0
	if words > 20 {
		score += 2
	} else if words > 10 {
		score++
	}
	if questions > 1 {
		score++
	}
	for _, v := range researchVerbs {
		if strings.Contains(lower, v) {
			score++
			break
		}
	}
	if len(qc.History) > 5 {
		score++
	}

	switch {
	case score >= 3:
		return ComplexityComplex
	case score >= 1:
		return ComplexityMedium
	default:
		return ComplexitySimple
	}
}

// decompose builds the task graph for the given complexity tier. Priority
// follows decomposition order.
func decompose(mainTask string, complexity Complexity) []Task {
	priority := 0
	newTask := func(t TaskType, desc string, deps ...string) Task {
		priority++
		return Task{
			ID:          uuid.NewString(),
			Type:        t,
			Description: desc,
			DependsOn:   deps,
			Priority:    priority,
			MaxRetries:  2,
		}
	}

	switch complexity {
	case ComplexitySimple:
		return []Task{
			newTask(TaskSearch, mainTask),
		}
	case ComplexityMedium:
		search := newTask(TaskSearch, fmt.Sprintf("Find information relevant to: %s", mainTask))
		analyze := newTask(TaskAnalyze, fmt.Sprintf("Analyze the findings for: %s", mainTask), search.ID)
		return []Task{search, analyze}
	default:
		search := newTask(TaskSearch, fmt.Sprintf("Find information relevant to: %s", mainTask))
		analyze := newTask(TaskAnalyze, fmt.Sprintf("Analyze the findings for: %s", mainTask), search.ID)
		synth := newTask(TaskSynthesize, fmt.Sprintf("Combine search and analysis into one answer for: %s", mainTask), search.ID, analyze.ID)
		validate := newTask(TaskValidate, fmt.Sprintf("Validate the combined answer for: %s", mainTask), synth.ID)
		return []Task{search, analyze, synth, validate}
	}
}

// computeWaves batches tasks into dependency-satisfied waves. A task never
// lands in an earlier wave than any task it depends on. Returns an error on
// a dependency cycle or a reference to an unknown task.
func computeWaves(tasks []Task) ([][]string, error) {
	known := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		known[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := known[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
		}
	}

	done := make(map[string]bool, len(tasks))
	var waves [][]string
	remaining := len(tasks)

	for remaining > 0 {
		var wave []string
		for _, t := range tasks {
			if done[t.ID] {
				continue
			}
			ready := true
			for _, dep := range t.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, t.ID)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("dependency cycle among %d remaining tasks", remaining)
		}
		for _, id := range wave {
			done[id] = true
		}
		remaining -= len(wave)
		waves = append(waves, wave)
	}

	return waves, nil
}

// estimateDuration projects how long the plan takes when every task in a
// wave runs concurrently and each task uses its full timeout once.
func estimateDuration(waves [][]string, perTask time.Duration) time.Duration {
	return time.Duration(len(waves)) * perTask
}

// assessRisk grades the plan and names the fallback measures available to
// the caller. Fallbacks are informational only.
func assessRisk(tasks []Task, urgency assembler.Urgency) (string, []string) {
	level := "low"
	switch {
	case len(tasks) > 5 || urgency == assembler.UrgencyCritical:
		level = "high"
	case len(tasks) > 2 || urgency == assembler.UrgencyHigh:
		level = "medium"
	}

	fallbacks := []string{"retry_failed_tasks", "use_backup_agent"}
	if level == "high" {
		fallbacks = append(fallbacks, "escalate_to_human", "simplify_task")
	}
	return level, fallbacks
}
