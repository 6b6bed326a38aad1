package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/citation-enricher/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached response counts per endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := cache.Open(cfg.Cache.Driver, cfg.Cache.Path)
		if err != nil {
			return eris.Wrap(err, "cache stats: open")
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		printCacheStats(cmd.OutOrStdout(), cfg.Cache.Driver, cfg.Cache.Path, stats)
		return nil
	},
}

func printCacheStats(w io.Writer, driver, path string, stats cache.Stats) {
	fmt.Fprintf(w, "Cache: %s (%s)\n", path, driver)
	fmt.Fprintf(w, "Entries: %d\n", stats.Entries)
	for _, ep := range slices.Sorted(maps.Keys(stats.ByEndpoint)) {
		fmt.Fprintf(w, "  %-24s %d\n", ep, stats.ByEndpoint[ep])
	}
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
