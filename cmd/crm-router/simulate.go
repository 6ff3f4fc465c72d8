package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tributary-ai/crm-reply-router/internal/config"
	"github.com/tributary-ai/crm-reply-router/internal/simulation"
)

func simulateCmd() *cobra.Command {
	var (
		asJSON  bool
		verbose bool
		only    []string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay the built-in scenarios through routing and fallback",
		Long: `Runs synthetic conversations through the routing policy and the fallback
chain using the configured scoring and pricing tables. AI providers are
scripted, so no API keys are needed. Exits non-zero when a scenario fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger := logrus.New()
			if err := setupLogger(logger, cfg.Logging); err != nil {
				return err
			}
			if !verbose {
				logger.SetLevel(logrus.WarnLevel)
			}

			scenarios, err := selectScenarios(simulation.Scenarios(), only)
			if err != nil {
				return err
			}

			simCfg := simulation.DefaultConfig()
			simCfg.Scoring = cfg.Scoring
			simCfg.Credits = cfg.Credits
			simCfg.Templates = cfg.Replies.Templates
			if cfg.Replies.Basic != "" {
				simCfg.BasicReply = cfg.Replies.Basic
			}

			report := simulation.NewRunner(simCfg, logger).Run(cmd.Context(), scenarios)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(out, report)
			}

			if !report.OK() {
				return fmt.Errorf("%d of %d scenarios failed", report.Failed, len(report.Outcomes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringSliceVar(&only, "scenario", nil, "run only the named scenarios")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log every scenario")
	return cmd
}

func selectScenarios(all []simulation.Scenario, names []string) ([]simulation.Scenario, error) {
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]simulation.Scenario, len(all))
	for _, sc := range all {
		byName[sc.Name] = sc
	}

	var selected []simulation.Scenario
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		selected = append(selected, sc)
	}
	return selected, nil
}

func printReport(w io.Writer, report simulation.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tDECISION\tCONFIDENCE\tANSWERED BY\tATTEMPTS\tRESULT")
	for _, o := range report.Outcomes {
		status := "ok"
		if !o.Passed {
			status = "FAIL: " + strings.Join(o.Problems, "; ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%d\t%s\n",
			o.Scenario, o.Decision.Provider, o.Decision.Confidence, o.Result.Method, o.Result.Attempts, status)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d passed, %d failed in %s\n", report.Passed, report.Failed, report.Duration.Round(time.Millisecond))
}
