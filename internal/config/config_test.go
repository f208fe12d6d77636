package config

import (
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", true, nil
	}
	return s, true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, true, nil
	}
	return i, true, nil
}

func (b *mapBackend) SetString(key, val string) error  { b.data[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *mapBackend) Delete(key string) error          { delete(b.data, key); return nil }

func TestDefaults(t *testing.T) {
	t.Setenv("CONCIERGE_OPENROUTER_API_KEY", "test-key")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Assembly.MaxTokens != 4000 {
		t.Errorf("Assembly.MaxTokens = %d, want 4000", cfg.Assembly.MaxTokens)
	}
	if cfg.Assembly.TargetTokens != 3000 {
		t.Errorf("Assembly.TargetTokens = %d, want 3000", cfg.Assembly.TargetTokens)
	}
	if cfg.Coordinator.MaxParallelTasks != 3 {
		t.Errorf("Coordinator.MaxParallelTasks = %d, want 3", cfg.Coordinator.MaxParallelTasks)
	}
	if cfg.Coordinator.TaskTimeout != "30s" {
		t.Errorf("Coordinator.TaskTimeout = %q, want 30s", cfg.Coordinator.TaskTimeout)
	}
	if cfg.Memory.ConsolidationThreshold != 5 {
		t.Errorf("Memory.ConsolidationThreshold = %d, want 5", cfg.Memory.ConsolidationThreshold)
	}
	if cfg.Memory.EpisodicCacheSize != 1000 {
		t.Errorf("Memory.EpisodicCacheSize = %d, want 1000", cfg.Memory.EpisodicCacheSize)
	}
	if cfg.LLM.DefaultModel != "anthropic/claude-sonnet-4" {
		t.Errorf("LLM.DefaultModel = %q", cfg.LLM.DefaultModel)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	t.Setenv("CONCIERGE_OPENROUTER_API_KEY", "test-key")

	b := &mapBackend{data: map[string]any{
		"assembly.max_tokens":           8000,
		"assembly.similarity_threshold": "0.9",
		"llm.default_model":             "anthropic/claude-3.5-haiku",
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Assembly.MaxTokens != 8000 {
		t.Errorf("Assembly.MaxTokens = %d, want 8000", cfg.Assembly.MaxTokens)
	}
	if cfg.Assembly.SimilarityThreshold != 0.9 {
		t.Errorf("Assembly.SimilarityThreshold = %v, want 0.9", cfg.Assembly.SimilarityThreshold)
	}
	if cfg.LLM.DefaultModel != "anthropic/claude-3.5-haiku" {
		t.Errorf("LLM.DefaultModel = %q", cfg.LLM.DefaultModel)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("CONCIERGE_OPENROUTER_API_KEY", "test-key")
	t.Setenv("CONCIERGE_ASSEMBLY_MAX_TOKENS", "2000")
	t.Setenv("CONCIERGE_COORDINATOR_RISK_TOLERANCE", "low")

	b := &mapBackend{data: map[string]any{
		"assembly.max_tokens": 8000,
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Assembly.MaxTokens != 2000 {
		t.Errorf("Assembly.MaxTokens = %d, want env override 2000", cfg.Assembly.MaxTokens)
	}
	if cfg.Coordinator.RiskTolerance != "low" {
		t.Errorf("Coordinator.RiskTolerance = %q, want low", cfg.Coordinator.RiskTolerance)
	}
}

func TestRequireAPIKey(t *testing.T) {
	t.Setenv("CONCIERGE_OPENROUTER_API_KEY", "")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if err := cfg.RequireAPIKey(); err == nil {
		t.Error("expected error when API key is missing")
	}

	cfg.LLM.OpenRouterAPIKey = "sk-test"
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("RequireAPIKey with key set: %v", err)
	}
}

func TestShowAll_ExcludesSecrets(t *testing.T) {
	cfg := defaults()
	for _, info := range ShowAll(cfg) {
		if info.Key == "llm.openrouter_api_key" {
			t.Error("ShowAll leaked a secret key")
		}
	}
}

func TestSetKey_Unknown(t *testing.T) {
	err := SetKey("nope.nothing", "x")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "llm.default_model") {
		t.Errorf("error = %q, want it to list valid keys", err.Error())
	}
}
