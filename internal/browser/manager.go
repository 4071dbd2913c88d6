// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/browser/stealth"
	"github.com/xkilldash9x/scribe-cli/internal/config"
)

// Manager is the chromedp implementation of Host.
type Manager struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	proxyURL string
	persona  stealth.Persona

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	// controllerCtx executes browser-level CDP commands (Target.*, Storage.*).
	controllerCtx context.Context

	mu       sync.Mutex
	contexts map[string]*isolatedContext
	closed   bool
}

var _ Host = (*Manager)(nil)

// NewManager launches the browser. When proxyURL is non-empty every context
// routes its traffic through it. The process outlives ctx; call Shutdown.
func NewManager(ctx context.Context, cfg config.BrowserConfig, proxyURL string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		proxyURL: proxyURL,
		persona:  stealth.PersonaFor(cfg.UserAgent, cfg.Locale, cfg.Timezone),
		contexts: make(map[string]*isolatedContext),
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless), zap.String("proxy", m.proxyURL))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), buildAllocatorOptions(m.cfg, m.persona)...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	// The first Run allocates the process. It must not carry a deadline or the
	// browser would die with it, so the launch timeout is enforced here instead.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	launchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case err := <-started:
		if err != nil {
			browserStop()
			allocCancel()
			return fmt.Errorf("browser failed to start: %w", err)
		}
	case <-launchCtx.Done():
		browserStop()
		allocCancel()
		return fmt.Errorf("browser did not start: %w", launchCtx.Err())
	}

	c := chromedp.FromContext(browserCtx)
	m.allocCtx, m.allocCancel = allocCtx, allocCancel
	m.browserCtx, m.browserStop = browserCtx, browserStop
	m.controllerCtx = cdp.WithExecutor(browserCtx, c.Browser)

	m.logger.Info("Browser launched.")
	return nil
}

// NewContext creates a CDP browser context (an incognito-like profile).
func (m *Manager) NewContext(ctx context.Context) (Context, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrHostClosed
	}
	m.mu.Unlock()

	callCtx, cancel := m.commandContext(ctx)
	defer cancel()

	create := target.CreateBrowserContext()
	if m.proxyURL != "" {
		create = create.WithProxyServer(m.proxyURL)
	}
	browserContextID, err := create.Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	ic := &isolatedContext{
		id:               uuid.NewString(),
		browserContextID: browserContextID,
		manager:          m,
		tabs:             make(map[string]context.CancelFunc),
	}
	ic.logger = m.logger.With(zap.String("context_id", ic.id))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = m.disposeBrowserContext(context.Background(), browserContextID)
		return nil, ErrHostClosed
	}
	m.contexts[ic.id] = ic
	m.mu.Unlock()

	ic.logger.Debug("Browser context created.", zap.String("browser_context_id", string(browserContextID)))
	return ic, nil
}

// Shutdown disposes every open context and terminates the process. It is safe to
// call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*isolatedContext, 0, len(m.contexts))
	for _, ic := range m.contexts {
		open = append(open, ic)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser.", zap.Int("open_contexts", len(open)))
	for _, ic := range open {
		if err := ic.Close(ctx); err != nil {
			m.logger.Debug("Context close during shutdown failed.", zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() {
		// Cancel asks the browser to close gracefully and waits for it.
		done <- chromedp.Cancel(m.browserCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.browserStop()
	m.allocCancel()
	if err != nil {
		return fmt.Errorf("browser shutdown: %w", err)
	}
	m.logger.Info("Browser closed.")
	return nil
}

// commandContext derives a browser-level command context that also ends with ctx.
func (m *Manager) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(m.controllerCtx)
	stop := context.AfterFunc(ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

func (m *Manager) disposeBrowserContext(ctx context.Context, id cdp.BrowserContextID) error {
	if m.browserCtx.Err() != nil {
		return nil
	}
	callCtx, cancel := m.commandContext(ctx)
	defer cancel()
	return target.DisposeBrowserContext(id).Do(callCtx)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.contexts, id)
	m.mu.Unlock()
}

// openContexts reports how many contexts are alive.
func (m *Manager) openContexts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

// allocatorFlags assembles the command line flags layered over chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig, persona stealth.Persona) map[string]interface{} {
	flags := map[string]interface{}{
		"enable-automation":         false,
		"headless":                  cfg.Headless,
		"hide-scrollbars":           cfg.Headless,
		"mute-audio":                true,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-blink-features":    "AutomationControlled",
		"disable-extensions":        true,
		"lang":                      persona.Locale,
		"user-agent":                persona.UserAgent,
		"window-size":               "1366,900",
	}
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

func buildAllocatorOptions(cfg config.BrowserConfig, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	// Later flags win over the defaults.
	for name, value := range allocatorFlags(cfg, persona) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
