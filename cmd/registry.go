package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/citation-enricher/internal/matcher"
)

var registryCheckText []string

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Validate the competitor registry and test assignee matching",
}

var registryCheckCmd = &cobra.Command{
	Use:   "check [assignee...]",
	Short: "Validate the registry, then show how each given assignee matches",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := matcher.LoadRegistry(cfg.Registry.Path)
		if err != nil {
			return eris.Wrap(err, "registry check")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d competitors\n", cfg.Registry.Path, len(reg.Competitors))
		checkAssignees(cmd.OutOrStdout(), matcher.New(reg), append(registryCheckText, args...))
		return nil
	},
}

func checkAssignees(w io.Writer, m *matcher.Matcher, names []string) {
	for _, raw := range names {
		norm := matcher.Normalize(raw)
		comp, alias, ok := m.MatchAlias(raw)
		if !ok {
			fmt.Fprintf(w, "%q -> %q: no match\n", raw, norm)
			continue
		}
		via := ""
		if alias != matcher.Normalize(comp.Name) {
			via = fmt.Sprintf(" (alias %q)", alias)
		}
		fmt.Fprintf(w, "%q -> %q: %s%s\n", raw, norm, comp.Name, via)
	}
}

func init() {
	registryCheckCmd.Flags().StringArrayVar(&registryCheckText, "text", nil, "assignee string to match (repeatable)")
	registryCmd.AddCommand(registryCheckCmd)
	rootCmd.AddCommand(registryCmd)
}
