package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "storage.data_dir", typ: kString, env: "CONCIERGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "CONCIERGE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.default_model", typ: kString, env: "CONCIERGE_LLM_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.DefaultModel },
	},
	{
		key: "assembly.max_tokens", typ: kInt, env: "CONCIERGE_ASSEMBLY_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Assembly.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Assembly.MaxTokens },
	},
	{
		key: "assembly.target_tokens", typ: kInt, env: "CONCIERGE_ASSEMBLY_TARGET_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Assembly.TargetTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Assembly.TargetTokens },
	},
	{
		key: "assembly.min_tokens", typ: kInt, env: "CONCIERGE_ASSEMBLY_MIN_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Assembly.MinTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Assembly.MinTokens },
	},
	{
		key: "assembly.decay_half_life_hours", typ: kFloat, env: "CONCIERGE_ASSEMBLY_DECAY_HALF_LIFE_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Assembly.DecayHalfLifeHours = v.(float64) },
		extract: func(cfg Config) any { return cfg.Assembly.DecayHalfLifeHours },
	},
	{
		key: "assembly.similarity_threshold", typ: kFloat, env: "CONCIERGE_ASSEMBLY_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Assembly.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Assembly.SimilarityThreshold },
	},
	{
		key: "coordinator.max_parallel_tasks", typ: kInt, env: "CONCIERGE_COORDINATOR_MAX_PARALLEL_TASKS",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.MaxParallelTasks = v.(int) },
		extract: func(cfg Config) any { return cfg.Coordinator.MaxParallelTasks },
	},
	{
		key: "coordinator.task_timeout", typ: kString, env: "CONCIERGE_COORDINATOR_TASK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.TaskTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Coordinator.TaskTimeout },
	},
	{
		key: "coordinator.risk_tolerance", typ: kString, env: "CONCIERGE_COORDINATOR_RISK_TOLERANCE",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.RiskTolerance = v.(string) },
		extract: func(cfg Config) any { return cfg.Coordinator.RiskTolerance },
	},
	{
		key: "memory.consolidation_threshold", typ: kInt, env: "CONCIERGE_MEMORY_CONSOLIDATION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Memory.ConsolidationThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.ConsolidationThreshold },
	},
	{
		key: "memory.consolidation_schedule", typ: kString, env: "CONCIERGE_MEMORY_CONSOLIDATION_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Memory.ConsolidationSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.ConsolidationSchedule },
	},
	{
		key: "memory.episodic_cache_size", typ: kInt, env: "CONCIERGE_MEMORY_EPISODIC_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Memory.EpisodicCacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.EpisodicCacheSize },
	},
	{
		key: "memory.procedural_cache_size", typ: kInt, env: "CONCIERGE_MEMORY_PROCEDURAL_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Memory.ProceduralCacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.ProceduralCacheSize },
	},
	{
		key: "log.level", typ: kString, env: "CONCIERGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
