package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/citation-enricher/internal/checkpoint"
	"github.com/sells-group/citation-enricher/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the current or last enrichment run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printRunStatus(cmd.OutOrStdout(), cfg.Run)
	},
}

func printRunStatus(w io.Writer, run config.RunConfig) error {
	done, err := checkpoint.LoadLedger(run.LedgerPath())
	if err != nil {
		return eris.Wrap(err, "status: load ledger")
	}
	chunks, err := checkpoint.ListChunks(run.ChunkDir())
	if err != nil {
		return eris.Wrap(err, "status: list chunks")
	}

	fmt.Fprintf(w, "Ledger:   %s (%d done)\n", run.LedgerPath(), len(done))
	fmt.Fprintf(w, "Chunks:   %s (%d files)\n", run.ChunkDir(), len(chunks))

	if _, err := os.Stat(run.StatusPath()); os.IsNotExist(err) {
		fmt.Fprintln(w, "Run:      no status snapshot yet")
		return nil
	}
	st, err := checkpoint.ReadStatus(run.StatusPath())
	if err != nil {
		return eris.Wrap(err, "status: read snapshot")
	}

	fmt.Fprintf(w, "Run:      %s\n", st.RunID)
	fmt.Fprintf(w, "State:    %s\n", st.State)
	fmt.Fprintf(w, "Progress: %d/%d processed, %d skipped, %d matched, %d failed\n",
		st.Processed, st.Total-st.Skipped, st.Skipped, st.Matched, st.Failed)
	fmt.Fprintf(w, "Rate:     %.1f/min, eta %s\n", st.RatePerMin, (time.Duration(st.ETASecs) * time.Second).String())
	fmt.Fprintf(w, "Updated:  %s\n", st.UpdatedAt.Format(time.RFC3339))

	if s, err := checkpoint.ReadSummary(run.SummaryPath()); err == nil && s.RunID == st.RunID {
		fmt.Fprintf(w, "Summary:  %d competitor citations across %d subjects\n",
			s.TotalCompetitorCitations, s.SubjectsWithCompetitor)
		for _, name := range slices.Sorted(maps.Keys(s.ByCompetitor)) {
			fmt.Fprintf(w, "  %-24s %d\n", name, s.ByCompetitor[name])
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
