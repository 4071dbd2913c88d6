// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/config"
	"github.com/xkilldash9x/scribe-cli/internal/observability"
)

// app carries what PersistentPreRunE loads to the subcommands.
type app struct {
	cfgFile string
	headed  bool
	noProxy bool
	cfg     *config.Config
}

// NewRootCommand builds a fresh command tree. Running it without a subcommand
// starts the interactive session.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Scribe downloads course videos and exams from Vietnamese learning sites.",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.cfgFile)
			if err != nil {
				// Fallback logger so the failure is still reported.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scribe"})
				return err
			}
			a.applyFlags(cfg)
			a.cfg = cfg
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting scribe", zap.String("version", Version))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), a.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./scribe.yaml or ~/.config/scribe/scribe.yaml)")
	rootCmd.Flags().BoolVar(&a.headed, "headed", false, "show the browser window")
	rootCmd.Flags().BoolVar(&a.noProxy, "no-proxy", false, "do not start the interception proxy")
	rootCmd.SetVersionTemplate(`{{printf "scribe version %s\n" .Version}}`)

	rootCmd.AddCommand(newSitesCmd(a), newForgetCmd(a), newVersionCmd())
	return rootCmd
}

// applyFlags layers command line overrides over the loaded configuration.
func (a *app) applyFlags(cfg config.Interface) {
	if a.headed {
		cfg.SetBrowserHeadless(false)
	}
	if a.noProxy {
		cfg.SetProxyEnabled(false)
	}
}

// Execute runs the command tree with ctx. A cancelled context is a clean exit.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// loadConfig layers defaults, the config file and SCRIBE_* environment variables.
func loadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/scribe")
		v.SetConfigName("scribe")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return config.NewConfigFromViper(v)
}
