// Package browsertest launches a real headless browser for integration tests.
package browsertest

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/config"
)

var candidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"}

// ExecPath returns a local Chrome binary or skips the test. Short mode always skips.
func ExecPath(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome or Chromium binary found")
	return ""
}

// NewManager launches a headless browser that is shut down on cleanup.
func NewManager(t testing.TB) *browser.Manager {
	t.Helper()
	cfg := config.BrowserConfig{
		Headless:        true,
		ExecPath:        ExecPath(t),
		LaunchTimeout:   30 * time.Second,
		IgnoreTLSErrors: true,
	}
	m, err := browser.NewManager(context.Background(), cfg, "", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("launching browser: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// NewContext opens an isolated context on m that is closed on cleanup.
func NewContext(t testing.TB, m *browser.Manager) browser.Context {
	t.Helper()
	bctx, err := m.NewContext(context.Background())
	if err != nil {
		t.Fatalf("creating browser context: %v", err)
	}
	t.Cleanup(func() { _ = bctx.Close(context.Background()) })
	return bctx
}
