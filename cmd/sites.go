package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/observability"
	"github.com/xkilldash9x/scribe-cli/internal/sites"
)

func newSitesCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List supported sites and their store prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := sites.NewRegistry(adapter.Deps{Logger: observability.GetLogger()})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSITE\tPREFIX")
			for i, site := range reg.Sites() {
				fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, site, adapter.Prefix(site))
			}
			return w.Flush()
		},
	}
}
