package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/citation-enricher/internal/checkpoint"
	"github.com/sells-group/citation-enricher/internal/subjects"
)

var ledgerForgetIDs string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or edit the completion ledger",
}

var ledgerCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print how many patents are recorded as done",
	RunE: func(cmd *cobra.Command, args []string) error {
		done, err := checkpoint.LoadLedger(cfg.Run.LedgerPath())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), len(done))
		return nil
	},
}

var ledgerForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove patents from the ledger so the next run enriches them again",
	Long: `Removes the given ids from the ledger. Their cached API responses are
kept, so re-enrichment does not hit the network. Do not run this while an
enrichment run is active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := subjects.ParseIDList(ledgerForgetIDs)
		if len(ids) == 0 {
			return eris.New("ledger forget: --ids is required")
		}

		removed, err := checkpoint.ForgetLedger(cfg.Run.LedgerPath(), ids)
		if err != nil {
			return err
		}
		zap.L().Info("ledger entries removed",
			zap.String("ledger", cfg.Run.LedgerPath()),
			zap.Int("requested", len(ids)),
			zap.Int("removed", removed),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d of %d ids\n", removed, len(ids))
		return nil
	},
}

func init() {
	ledgerForgetCmd.Flags().StringVar(&ledgerForgetIDs, "ids", "", "comma-separated patent ids to forget")
	ledgerCmd.AddCommand(ledgerCountCmd, ledgerForgetCmd)
	rootCmd.AddCommand(ledgerCmd)
}
