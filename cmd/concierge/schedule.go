package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/concierge/internal/config"
	"github.com/kalambet/concierge/internal/memory"
)

var memoryScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the consolidation scheduler in the foreground",
	Long: `Run the consolidation scheduler in the foreground.

Tenants are given as agency:user pairs; consolidation runs for each on
the configured cron schedule until interrupted.

Example:
  concierge memory schedule --tenant acme:alice --tenant acme:bob`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantFlags, _ := cmd.Flags().GetStringArray("tenant")
		spec, _ := cmd.Flags().GetString("cron")

		if len(tenantFlags) == 0 {
			return fmt.Errorf("at least one --tenant is required")
		}

		var tenants []memory.Tenant
		for _, tf := range tenantFlags {
			agency, user, ok := strings.Cut(tf, ":")
			if !ok || agency == "" {
				return fmt.Errorf("invalid tenant %q, want agency:user", tf)
			}
			tenants = append(tenants, memory.Tenant{AgencyID: agency, UserID: user})
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if spec == "" {
			spec = cfg.Memory.ConsolidationSchedule
		}

		mem, store, err := openMemory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		sched, err := memory.NewScheduler(mem, spec, tenants)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sched.Start()
		fmt.Fprintf(os.Stdout, "consolidation scheduler running (%s), %d tenants\n", spec, len(tenants))

		<-ctx.Done()
		fmt.Fprintln(os.Stdout, "shutting down...")
		sched.Stop()
		return nil
	},
}

func init() {
	memoryScheduleCmd.Flags().StringArray("tenant", nil, "agency:user pair to consolidate (repeatable)")
	memoryScheduleCmd.Flags().String("cron", "", "cron schedule (default from config)")

	memoryCmd.AddCommand(memoryScheduleCmd)
}
