package config

import (
	"fmt"
)

type Config struct {
	Storage     StorageConfig
	LLM         LLMConfig
	Assembly    AssemblyConfig
	Coordinator CoordinatorConfig
	Memory      MemoryConfig
	Log         LogConfig
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
}

type AssemblyConfig struct {
	MaxTokens           int
	TargetTokens        int
	MinTokens           int
	DecayHalfLifeHours  float64
	SimilarityThreshold float64
}

type CoordinatorConfig struct {
	MaxParallelTasks int
	TaskTimeout      string
	RiskTolerance    string
}

type MemoryConfig struct {
	ConsolidationThreshold int
	ConsolidationSchedule  string
	EpisodicCacheSize      int
	ProceduralCacheSize    int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			DefaultModel: "anthropic/claude-sonnet-4",
		},
		Assembly: AssemblyConfig{
			MaxTokens:           4000,
			TargetTokens:        3000,
			MinTokens:           500,
			DecayHalfLifeHours:  168,
			SimilarityThreshold: 0.8,
		},
		Coordinator: CoordinatorConfig{
			MaxParallelTasks: 3,
			TaskTimeout:      "30s",
			RiskTolerance:    "medium",
		},
		Memory: MemoryConfig{
			ConsolidationThreshold: 5,
			ConsolidationSchedule:  "0 3 * * *",
			EpisodicCacheSize:      1000,
			ProceduralCacheSize:    10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/concierge/config.json, with environment variables
// (CONCIERGE_*) overriding file values.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// RequireAPIKey checks that the OpenRouter key is present. Commands that
// never call the LLM skip this check.
func (c Config) RequireAPIKey() error {
	if c.LLM.OpenRouterAPIKey == "" {
		return fmt.Errorf("missing required config: OpenRouter API key. " +
			"Set it via environment variable CONCIERGE_OPENROUTER_API_KEY")
	}
	return nil
}
