package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/certs"
	"github.com/xkilldash9x/scribe-cli/internal/config"
	"github.com/xkilldash9x/scribe-cli/internal/media"
	"github.com/xkilldash9x/scribe-cli/internal/network"
	"github.com/xkilldash9x/scribe-cli/internal/observability"
	"github.com/xkilldash9x/scribe-cli/internal/orchestrator"
	"github.com/xkilldash9x/scribe-cli/internal/prompt"
	"github.com/xkilldash9x/scribe-cli/internal/sites"
	"github.com/xkilldash9x/scribe-cli/internal/store"
)

// ErrNoTerminal is returned when the session is started without an interactive terminal.
var ErrNoTerminal = errors.New("the interactive session needs a terminal on stdin")

// Swapped in tests.
var isTerminal = func(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// runSession wires the process-scoped services and runs the session loop until the
// operator quits or ctx is cancelled.
func runSession(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	if !isTerminal(in) {
		return ErrNoTerminal
	}
	logger := observability.GetLogger()

	st, err := store.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer st.Close()

	proxy, err := newProxy(cfg, logger)
	if err != nil {
		return err
	}
	deps := adapter.Deps{
		Logger: logger,
		Client: network.ClientConfigFrom(cfg.Network(), logger),
		Proxy:  proxy,
		Runner: media.NewRunner(cfg.Tools(), logger),
	}
	// Adapters install their proxy hooks here, before the proxy serves.
	registry, err := sites.NewRegistry(deps)
	if err != nil {
		return err
	}

	var stopper orchestrator.Stopper
	if proxy != nil {
		if err := proxy.Start(ctx); err != nil {
			return fmt.Errorf("failed to start interception proxy: %w", err)
		}
		stopper = proxy
		logger.Info("Interception proxy listening.", zap.String("url", proxy.URL()), zap.Bool("mitm", proxy.MITMEnabled()))
	}

	browserProxy := ""
	if cfg.Browser().RouteThroughProxy && proxy != nil {
		browserProxy = proxy.URL()
	}
	term := prompt.NewTerminal(in, out)
	orch, err := orchestrator.New(orchestrator.Deps{
		Logger:      logger,
		Registry:    registry,
		Credentials: store.NewCredentials(st),
		Prompter:    term,
		Reporter:    term,
		Launch: func(ctx context.Context) (browser.Host, error) {
			return browser.NewManager(ctx, cfg.Browser(), browserProxy, logger)
		},
		Proxy: stopper,
	},
		orchestrator.WithAdapterTimeout(cfg.Session().AdapterTimeout),
		orchestrator.WithShutdownTimeout(cfg.Session().ShutdownTimeout),
	)
	if err != nil {
		if stopper != nil {
			_ = stopper.Stop(context.WithoutCancel(ctx))
		}
		return err
	}
	return orch.Run(ctx)
}

// newProxy builds the interception proxy, or returns nil when it is disabled.
func newProxy(cfg *config.Config, logger *zap.Logger) (*network.InterceptionProxy, error) {
	pc := cfg.Proxy()
	if !pc.Enabled {
		return nil, nil
	}
	var ca *certs.CA
	if pc.MITM {
		var err error
		if pc.CACert != "" {
			ca, err = certs.LoadCA(pc.CACert, pc.CAKey)
		} else {
			ca, err = certs.NewCA()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to prepare interception CA: %w", err)
		}
	}
	upstream := network.ClientConfigFrom(cfg.Network(), logger)
	// Throttling belongs to adapter clients, not to relayed traffic.
	upstream.RequestsPerSecond = 0
	upstream.IgnoreTLSErrors = true
	return network.NewInterceptionProxy(pc.Address, ca, upstream, logger)
}
