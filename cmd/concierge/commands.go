package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/concierge/internal/agent"
	"github.com/kalambet/concierge/internal/assembler"
	"github.com/kalambet/concierge/internal/config"
	"github.com/kalambet/concierge/internal/coordinator"
	"github.com/kalambet/concierge/internal/llm"
	"github.com/kalambet/concierge/internal/memory"
	"github.com/kalambet/concierge/internal/optimizer"
	"github.com/kalambet/concierge/internal/storage"
)

type chunkInput struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Relevance  float64   `json:"relevance"`
	TokenCount int       `json:"token_count"`
	Timestamp  time.Time `json:"timestamp"`
}

func readChunks(path string) ([]assembler.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chunks file: %w", err)
	}
	var inputs []chunkInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parsing chunks file: %w", err)
	}
	chunks := make([]assembler.Chunk, len(inputs))
	for i, in := range inputs {
		chunks[i] = assembler.Chunk{
			ID:         in.ID,
			Content:    in.Content,
			Source:     in.Source,
			Relevance:  in.Relevance,
			TokenCount: in.TokenCount,
			Timestamp:  in.Timestamp,
		}
	}
	return chunks, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- assemble ---

var assembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "Assemble a budgeted context from candidate chunks",
	Long: `Assemble a budgeted context from candidate chunks.

The chunks file is a JSON array of objects with id, content, source,
relevance, token_count, and timestamp fields.

Example:
  concierge assemble --chunks ./chunks.json --query "beach hotels in Lisbon" --max 4000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("chunks")
		query, _ := cmd.Flags().GetString("query")
		user, _ := cmd.Flags().GetString("user")
		domain, _ := cmd.Flags().GetString("domain")
		urgency, _ := cmd.Flags().GetString("urgency")
		maxTokens, _ := cmd.Flags().GetInt("max")
		target, _ := cmd.Flags().GetInt("target")
		minTokens, _ := cmd.Flags().GetInt("min")

		if path == "" || query == "" {
			return fmt.Errorf("--chunks and --query are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		chunks, err := readChunks(path)
		if err != nil {
			return err
		}

		// Config seeds the budget, flags override.
		budget := assembler.DefaultBudget()
		budget.MaxTokens = cfg.Assembly.MaxTokens
		budget.TargetTokens = cfg.Assembly.TargetTokens
		budget.MinTokens = cfg.Assembly.MinTokens
		if maxTokens > 0 {
			budget.MaxTokens = maxTokens
		}
		if target > 0 {
			budget.TargetTokens = target
		}
		if minTokens > 0 {
			budget.MinTokens = minTokens
		}

		a := assembler.New(assembler.Config{
			DecayHalfLifeHours:  cfg.Assembly.DecayHalfLifeHours,
			SimilarityThreshold: cfg.Assembly.SimilarityThreshold,
		})
		result, err := a.Assemble(chunks, assembler.QueryContext{
			Query:   query,
			UserID:  user,
			Domain:  domain,
			Urgency: assembler.Urgency(urgency),
		}, &budget)
		if err != nil {
			return err
		}

		printSuccess("Assembled %d chunks, %d tokens (ratio %.2f)",
			len(result.Chunks), result.TotalTokens, result.CompressionRatio)
		return printJSON(result)
	},
}

func init() {
	assembleCmd.Flags().String("chunks", "", "path to a JSON file of candidate chunks")
	assembleCmd.Flags().String("query", "", "query text")
	assembleCmd.Flags().String("user", "", "user id")
	assembleCmd.Flags().String("domain", "", "query domain")
	assembleCmd.Flags().String("urgency", "medium", "query urgency (low, medium, high, critical)")
	assembleCmd.Flags().Int("max", 0, "maximum token budget")
	assembleCmd.Flags().Int("target", 0, "target token budget")
	assembleCmd.Flags().Int("min", 0, "minimum token budget")
}

// --- optimize ---

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run the optimization strategy pipeline over chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("chunks")
		target, _ := cmd.Flags().GetInt("target")
		disableStr, _ := cmd.Flags().GetString("disable")

		if path == "" {
			return fmt.Errorf("--chunks is required")
		}
		if target <= 0 {
			return fmt.Errorf("--target must be positive")
		}

		chunks, err := readChunks(path)
		if err != nil {
			return err
		}

		var overrides *optimizer.Overrides
		if disableStr != "" {
			overrides = &optimizer.Overrides{Disabled: make(map[string]bool)}
			for _, name := range strings.Split(disableStr, ",") {
				overrides.Disabled[strings.TrimSpace(name)] = true
			}
		}

		result := optimizer.New().Optimize(chunks, target, overrides)

		printSuccess("Optimized to %d chunks, %d tokens (ratio %.2f)",
			len(result.Chunks), result.TotalTokens, result.CompressionRatio)
		printStatus("Stages", "%s", strings.Join(result.Meta.StagesApplied, ", "))
		return printJSON(result)
	},
}

func init() {
	optimizeCmd.Flags().String("chunks", "", "path to a JSON file of candidate chunks")
	optimizeCmd.Flags().Int("target", 0, "target token count")
	optimizeCmd.Flags().String("disable", "", "comma-separated strategy names to skip")
}

// --- coordinate ---

var coordinateCmd = &cobra.Command{
	Use:   "coordinate <task>",
	Short: "Decompose and execute a task across the agent pool",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parallel, _ := cmd.Flags().GetInt("parallel")
		timeoutStr, _ := cmd.Flags().GetString("timeout")
		urgency, _ := cmd.Flags().GetString("urgency")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}

		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}

		task := strings.Join(args, " ")
		client := llm.NewOpenRouter(cfg.LLM.OpenRouterAPIKey).
			WithDefaultModel(cfg.LLM.DefaultModel)
		coord := coordinator.New(agent.DefaultRegistry(), client, nil)

		out, err := coord.Coordinate(cmd.Context(), task, assembler.QueryContext{
			Query:   task,
			Urgency: assembler.Urgency(urgency),
		}, &coordinator.Options{
			MaxParallelTasks: parallel,
			Timeout:          timeout,
			RiskTolerance:    cfg.Coordinator.RiskTolerance,
		})
		if err != nil {
			return err
		}

		printStatus("Complexity", "%s", out.Plan.Complexity)
		printStatus("Tasks", "%d in %d waves", len(out.Plan.Tasks), len(out.Plan.Waves))
		printStatus("Risk", "%s", out.Plan.RiskLevel)
		printStatus("Confidence", "%.2f", out.Confidence)
		printStatus("Duration", "%s", out.ProcessingTime.Round(time.Millisecond))
		fmt.Fprintln(os.Stdout, out.FinalAnswer)
		return nil
	},
}

func init() {
	coordinateCmd.Flags().Int("parallel", 3, "maximum concurrent tasks per wave")
	coordinateCmd.Flags().String("timeout", "30s", "per-task timeout")
	coordinateCmd.Flags().String("urgency", "medium", "task urgency (low, medium, high, critical)")
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store, query, and consolidate agency memories",
}

func openMemory(cfg config.Config) (*memory.Store, *storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	mem := memory.New(store, memory.Config{
		ConsolidationThreshold: cfg.Memory.ConsolidationThreshold,
		EpisodicCacheSize:      cfg.Memory.EpisodicCacheSize,
		ProceduralCacheSize:    cfg.Memory.ProceduralCacheSize,
	})
	return mem, store, nil
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Store an episodic memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		agency, _ := cmd.Flags().GetString("agency")
		user, _ := cmd.Flags().GetString("user")
		content, _ := cmd.Flags().GetString("content")
		interaction, _ := cmd.Flags().GetString("interaction")
		outcome, _ := cmd.Flags().GetString("outcome")
		importance, _ := cmd.Flags().GetFloat64("importance")

		if agency == "" || content == "" {
			return fmt.Errorf("--agency and --content are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		mem, store, err := openMemory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := mem.StoreEpisodic(cmd.Context(), memory.EpisodicRecord{
			AgencyID:        agency,
			UserID:          user,
			InteractionType: interaction,
			Content:         content,
			Outcome:         outcome,
			Importance:      importance,
		})
		if err != nil {
			return err
		}

		printSuccess("Stored episodic memory %s", rec.ID)
		return nil
	},
}

var memoryQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Query all three memory stores",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agency, _ := cmd.Flags().GetString("agency")
		user, _ := cmd.Flags().GetString("user")
		taskType, _ := cmd.Flags().GetString("task-type")
		limit, _ := cmd.Flags().GetInt("limit")

		if agency == "" {
			return fmt.Errorf("--agency is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		mem, store, err := openMemory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := mem.Query(cmd.Context(), agency, memory.Query{
			Text:     strings.Join(args, " "),
			UserID:   user,
			TaskType: taskType,
			Limit:    limit,
		})
		if err != nil {
			return err
		}

		printStatus("Episodic", "%d", len(results.Episodic))
		printStatus("Semantic", "%d", len(results.Semantic))
		printStatus("Procedural", "%d", len(results.Procedural))
		return printJSON(results)
	},
}

var memoryConsolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Promote repeated episodic memories into semantic knowledge",
	RunE: func(cmd *cobra.Command, args []string) error {
		agency, _ := cmd.Flags().GetString("agency")
		user, _ := cmd.Flags().GetString("user")

		if agency == "" {
			return fmt.Errorf("--agency is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		mem, store, err := openMemory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := mem.Consolidate(cmd.Context(), user, agency)
		if err != nil {
			return err
		}

		printSuccess("Consolidated %d episodes into %d semantic memories",
			report.Marked, report.Promoted)
		printStatus("Eligible", "%d", report.Eligible)
		printStatus("Clusters", "%d", report.Clusters)
		return nil
	},
}

func init() {
	memoryCmd.PersistentFlags().String("agency", "", "agency (tenant) id")
	memoryCmd.PersistentFlags().String("user", "", "user id")

	memoryStoreCmd.Flags().String("content", "", "memory content")
	memoryStoreCmd.Flags().String("interaction", "conversation", "interaction type")
	memoryStoreCmd.Flags().String("outcome", "", "interaction outcome")
	memoryStoreCmd.Flags().Float64("importance", 0.5, "importance score in [0, 1]")

	memoryQueryCmd.Flags().String("task-type", "", "procedural task type filter")
	memoryQueryCmd.Flags().Int("limit", 10, "maximum results per store")

	memoryCmd.AddCommand(memoryStoreCmd)
	memoryCmd.AddCommand(memoryQueryCmd)
	memoryCmd.AddCommand(memoryConsolidateCmd)
}

// --- agents ---

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the registered agent profiles",
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range agent.DefaultRegistry().List() {
			state := "active"
			if !p.Active {
				state = "inactive"
			}
			fmt.Fprintf(os.Stdout, "%-18s %-22s %-32s %s\n",
				p.ID, p.Role, p.Model, state)
		}
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			fmt.Fprintf(os.Stdout, "%-36s %s\n", info.Key, info.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
