package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tributary-ai/crm-reply-router/internal/config"
	"github.com/tributary-ai/crm-reply-router/internal/health"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run one health check against every configured AI provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger := logrus.New()
			if err := setupLogger(logger, cfg.Logging); err != nil {
				return err
			}

			set := buildProviders(cfg, logger)
			monitor := health.NewMonitor(cfg.Health, logger)
			for _, id := range cfg.GetEnabledProviders() {
				if p, err := set.Get(id); err == nil {
					monitor.Register(id, p)
				}
			}

			results := monitor.CheckAllAPIs(cmd.Context())
			if len(results) == 0 {
				return fmt.Errorf("no AI provider configured")
			}

			ids := make([]types.ProviderID, 0, len(results))
			for id := range results {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tSTATUS\tRESPONSE\tERROR")
			for _, id := range ids {
				h := results[id]
				fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", id, h.Status, h.ResponseTime.Milliseconds(), h.ErrorMessage)
			}
			tw.Flush()

			if monitor.BestProvider() == types.ProviderNone {
				return fmt.Errorf("no AI provider is healthy")
			}
			return nil
		},
	}
}
