// Package orchestrator runs the interactive session: pick a site, log in, download
// until something breaks, log out, repeat.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/prompt"
	"github.com/xkilldash9x/scribe-cli/internal/store"
)

const defaultShutdownTimeout = 15 * time.Second

// HostLauncher starts the automation host during Init.
type HostLauncher func(ctx context.Context) (browser.Host, error)

// Stopper is the interception service as seen by the session: it only stops it.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Logger      *zap.Logger
	Registry    *adapter.Registry
	Credentials *store.Credentials
	Prompter    prompt.Prompter
	Reporter    prompt.Reporter
	Launch      HostLauncher
	// Proxy may be nil when interception is disabled.
	Proxy Stopper
}

// Option tunes an Orchestrator.
type Option func(*Orchestrator)

// WithAdapterTimeout bounds each adapter call. Zero disables the bound.
func WithAdapterTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.adapterTimeout = d }
}

// WithShutdownTimeout bounds the Exit shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.shutdownTimeout = d }
}

// WithObserver registers a callback invoked on entry to every state.
func WithObserver(fn func(Snapshot)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// session is the transient state owned by the loop. host lives from Init to Exit;
// bctx and token only inside Login, Download and Logout.
type session struct {
	state   State
	host    browser.Host
	bctx    browser.Context
	adapter adapter.Adapter
	token   adapter.Token
	prefix  string
}

// Orchestrator is the session state machine. It is not safe for concurrent use; Run
// drives it from a single goroutine.
type Orchestrator struct {
	logger   *zap.Logger
	registry *adapter.Registry
	creds    *store.Credentials
	prompter prompt.Prompter
	reporter prompt.Reporter
	launch   HostLauncher
	proxy    Stopper

	adapterTimeout  time.Duration
	shutdownTimeout time.Duration
	observer        func(Snapshot)

	sess session
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Credentials == nil:
		return nil, errors.New("orchestrator: credential store is required")
	case deps.Prompter == nil || deps.Reporter == nil:
		return nil, errors.New("orchestrator: prompter and reporter are required")
	case deps.Launch == nil:
		return nil, errors.New("orchestrator: host launcher is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		logger:          logger.Named("orchestrator"),
		registry:        deps.Registry,
		creds:           deps.Credentials,
		prompter:        deps.Prompter,
		reporter:        deps.Reporter,
		launch:          deps.Launch,
		proxy:           deps.Proxy,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State { return o.sess.state }

// Run drives the session until Exit. It returns an error only when the host fails
// to launch. Cancelling ctx moves the session to Exit from any state.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.sess = session{state: StateInit}
	for {
		if ctx.Err() != nil && o.sess.state != StateExit {
			o.logger.Info("Session interrupted.", zap.Stringer("state", o.sess.state))
			o.releaseContext(ctx)
			o.sess.adapter, o.sess.prefix = nil, ""
			o.sess.state = StateExit
		}
		o.observe()

		var next State
		switch o.sess.state {
		case StateInit:
			var err error
			if next, err = o.init(ctx); err != nil {
				o.stopProxy(context.WithoutCancel(ctx))
				return err
			}
		case StateSelectSite:
			next = o.selectSite(ctx)
		case StateLogin:
			next = o.login(ctx)
		case StateDownload:
			next = o.download(ctx)
		case StateLogout:
			next = o.logout(ctx)
		case StateExit:
			o.exit(ctx)
			return nil
		default:
			return fmt.Errorf("orchestrator: unknown state %v", o.sess.state)
		}
		o.logger.Debug("Transition.", zap.Stringer("from", o.sess.state), zap.Stringer("to", next))
		o.sess.state = next
	}
}

// -- States --

func (o *Orchestrator) init(ctx context.Context) (State, error) {
	o.reporter.Info("Starting browser...")
	host, err := o.launch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return StateExit, nil
		}
		o.reporter.Fail("Failed to start browser!")
		return StateInit, fmt.Errorf("failed to launch automation host: %w", err)
	}
	o.sess.host = host
	o.reporter.Success("Started browser!")
	return StateSelectSite, nil
}

func (o *Orchestrator) selectSite(ctx context.Context) State {
	idx, err := o.prompter.SelectSite(ctx, o.registry.Sites())
	if err != nil {
		if !errors.Is(err, ErrCanceled) && ctx.Err() == nil {
			o.logger.Warn("Site prompt failed.", zap.Error(err))
		}
		o.sess.adapter, o.sess.prefix = nil, ""
		return StateExit
	}
	a, err := o.registry.At(idx)
	if err != nil {
		o.logger.Warn("Invalid site selection.", zap.Int("index", idx), zap.Error(err))
		return StateSelectSite
	}
	o.sess.adapter = a
	o.sess.prefix = adapter.Prefix(a.Website())
	o.logger.Info("Site selected.", zap.String("site", a.Website()))
	return StateLogin
}

func (o *Orchestrator) login(ctx context.Context) State {
	// A stale context from an earlier cycle never survives into a new login.
	o.releaseContext(ctx)

	rec, err := o.creds.Load(ctx, o.sess.prefix)
	if err != nil {
		o.logger.Warn("Could not read stored credentials.", zap.Error(err))
	}
	username, password, err := o.prompter.Credentials(ctx, rec.Username, rec.Password)
	if err != nil {
		o.reporter.Info("Canceled.")
		return StateSelectSite
	}

	o.reporter.Info("Logging in...")
	err = o.attemptLogin(ctx, username, password)
	switch {
	case err == nil:
		if err := o.creds.SaveLogin(ctx, o.sess.prefix, username, password); err != nil {
			o.logger.Warn("Could not store credentials.", zap.Error(err))
		}
		o.reporter.Success("Login success!")
		return StateDownload
	case errors.Is(err, ErrCanceled):
		o.reporter.Info("Login canceled.")
		return StateSelectSite
	default:
		o.logger.Debug("Login attempt failed.", zap.Error(err))
		o.reporter.Fail("Login failed! Check your credentials")
		return StateLogin
	}
}

// attemptLogin acquires a fresh context and runs the adapter login in it. On
// failure the context is released before returning.
func (o *Orchestrator) attemptLogin(ctx context.Context, username, password string) error {
	bctx, err := o.sess.host.NewContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	o.sess.bctx = bctx

	callCtx, cancel := o.adapterContext(ctx)
	token, err := o.sess.adapter.Login(callCtx, bctx, username, password)
	cancel()

	if err = classifyLogin(token, err); err != nil {
		o.releaseContext(ctx)
		return err
	}
	o.sess.token = token
	return nil
}

func classifyLogin(token adapter.Token, err error) error {
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if rejectedToken(token) {
		return ErrLoginFailed
	}
	return nil
}

func (o *Orchestrator) download(ctx context.Context) State {
	link, err := o.prompter.Link(ctx)
	if err != nil {
		o.reporter.Info("Canceled.")
		return StateLogout
	}
	rec, err := o.creds.Load(ctx, o.sess.prefix)
	if err != nil {
		o.logger.Warn("Could not read stored output folder.", zap.Error(err))
	}
	output, err := o.prompter.OutputDir(ctx, rec.Output)
	if err != nil {
		o.reporter.Info("Canceled.")
		return StateLogout
	}
	if err := o.creds.SaveOutput(ctx, o.sess.prefix, output); err != nil {
		o.logger.Warn("Could not store output folder.", zap.Error(err))
	}

	callCtx, cancel := o.adapterContext(ctx)
	err = o.sess.adapter.Download(callCtx, o.sess.bctx, o.sess.token, link, output)
	cancel()
	if err != nil && ctx.Err() != nil {
		o.logger.Info("Download interrupted.", zap.Error(err))
		return StateLogout
	}
	if err != nil {
		o.logger.Error("Download failed.",
			zap.String("site", o.sess.adapter.Website()),
			zap.String("link", link),
			zap.Error(err),
		)
		o.reporter.Fail("Download failed! You might need to login again")
		return StateLogout
	}
	o.reporter.Success("Download finished!")
	return StateDownload
}

func (o *Orchestrator) logout(ctx context.Context) State {
	if o.sess.adapter != nil && o.sess.bctx != nil && o.sess.token != nil {
		o.reporter.Info("Logging out...")
		callCtx, cancel := o.adapterContext(ctx)
		if err := o.sess.adapter.Logout(callCtx, o.sess.bctx, o.sess.token); err != nil {
			o.logger.Debug("Logout failed, ignoring.", zap.Error(err))
		}
		cancel()
		o.reporter.Success("Logged out!")
	}
	o.releaseContext(ctx)
	return StateSelectSite
}

func (o *Orchestrator) exit(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.shutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	if o.proxy != nil {
		g.Go(func() error {
			if err := o.proxy.Stop(gctx); err != nil {
				return fmt.Errorf("interception service: %w", err)
			}
			return nil
		})
	}
	if host := o.sess.host; host != nil {
		g.Go(func() error {
			if err := host.Shutdown(gctx); err != nil {
				return fmt.Errorf("automation host: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("Shutdown incomplete.", zap.Error(err))
	}
	o.sess.host = nil
	o.reporter.Info("Goodbye!")
}

// -- Helpers --

// releaseContext closes the live context, if any, and drops the token with it.
func (o *Orchestrator) releaseContext(ctx context.Context) {
	bctx := o.sess.bctx
	o.sess.bctx, o.sess.token = nil, nil
	if bctx == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.shutdownTimeout)
	defer cancel()
	if err := bctx.Close(closeCtx); err != nil {
		o.logger.Debug("Closing browser context failed.", zap.String("context_id", bctx.ID()), zap.Error(err))
	}
}

func (o *Orchestrator) stopProxy(ctx context.Context) {
	if o.proxy == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, o.shutdownTimeout)
	defer cancel()
	if err := o.proxy.Stop(stopCtx); err != nil {
		o.logger.Warn("Failed to stop interception service.", zap.Error(err))
	}
}

func (o *Orchestrator) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.adapterTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.adapterTimeout)
}

func (o *Orchestrator) observe() {
	if o.observer == nil {
		return
	}
	snap := Snapshot{
		State:      o.sess.state,
		Prefix:     o.sess.prefix,
		HasContext: o.sess.bctx != nil,
		HasToken:   o.sess.token != nil,
		HasAdapter: o.sess.adapter != nil,
	}
	if o.sess.adapter != nil {
		snap.Site = o.sess.adapter.Website()
	}
	o.observer(snap)
}

// rejectedToken reports whether a login result carries no session: nil, a typed
// nil, or the zero value of a scalar such as "", false or 0.
func rejectedToken(token adapter.Token) bool {
	if token == nil {
		return true
	}
	v := reflect.ValueOf(token)
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	case reflect.Struct, reflect.Array:
		return false
	}
	return v.IsZero()
}
