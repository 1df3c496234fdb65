package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

// newRulesCmd creates the `rules` command, which lists the rule catalog.
func newRulesCmd() *cobra.Command {
	var catalogPath string

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rules of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if catalogPath != "" {
				cfg.SetRulesPath(catalogPath)
			}
			catalog, err := loadCatalog(cfg.Rules())
			if err != nil {
				return err
			}
			return printRules(cmd.OutOrStdout(), catalog)
		},
	}
	rulesCmd.Flags().StringVar(&catalogPath, "rules", "", "Rule catalog file (default is the embedded catalog)")
	return rulesCmd
}

// printRules writes one line per rule, sorted by id.
func printRules(w io.Writer, catalog *rules.Catalog) error {
	ids, err := catalog.Select(nil)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCWE\tLANGUAGES")
	for _, id := range ids {
		r, _ := catalog.Rule(id)
		langs := make([]string, 0, len(r.Languages))
		for l := range r.Languages {
			langs = append(langs, string(l))
		}
		sort.Strings(langs)
		cwe := "-"
		if len(r.CWE) > 0 {
			cwe = "CWE-" + strings.Join(r.CWE, ",CWE-")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Title, cwe, strings.Join(langs, ","))
	}
	return tw.Flush()
}
