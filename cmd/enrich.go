package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/citation-enricher/internal/subjects"
)

var (
	enrichLimit       int
	enrichIDs         string
	enrichMetricsAddr string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich every pending patent with competitor citations",
	Long: `Loads the configured subject list, skips patents already recorded in the
ledger and enriches the rest. Interrupting the run is safe: the next run resumes
from the ledger and reuses cached API responses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnrich(ctx, subjects.ParseIDList(enrichIDs), enrichLimit)
		if err != nil {
			return err
		}
		defer env.Close()

		addr := enrichMetricsAddr
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if addr != "" {
			shutdown := startStatusServer(ctx, addr, buildRouter(env.Orchestrator.Status))
			defer shutdown()
		}

		summary, err := env.Orchestrator.Run(ctx, env.Source)
		if err != nil {
			zap.L().Error("enrichment run stopped", zap.String("run_id", env.RunID), zap.Error(err))
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "max subjects to consider (0 = all)")
	enrichCmd.Flags().StringVar(&enrichIDs, "ids", "", "comma-separated patent ids to restrict the run to")
	enrichCmd.Flags().StringVar(&enrichMetricsAddr, "metrics-addr", "", "listen address for /status and /metrics (default from config)")
	rootCmd.AddCommand(enrichCmd)
}
