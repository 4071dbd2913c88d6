package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/observability"
	"github.com/xkilldash9x/scribe-cli/internal/sites"
	"github.com/xkilldash9x/scribe-cli/internal/store"
)

func newForgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <site>",
		Short: "Delete the stored username, password and output folder of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			reg, err := sites.NewRegistry(adapter.Deps{Logger: logger})
			if err != nil {
				return err
			}
			site, ok := reg.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown site %q (known: %s)", args[0], strings.Join(reg.Sites(), ", "))
			}

			st, err := store.Open(cmd.Context(), a.cfg.Store(), logger)
			if err != nil {
				return fmt.Errorf("failed to open credential store: %w", err)
			}
			defer st.Close()

			if err := store.NewCredentials(st).Forget(cmd.Context(), adapter.Prefix(site.Website())); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot stored settings for %s.\n", site.Website())
			return nil
		},
	}
}
