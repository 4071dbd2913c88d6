package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/browser/stealth"
)

const defaultLaunchTimeout = 30 * time.Second

// ErrContextClosed is returned by operations on a closed context.
var ErrContextClosed = errors.New("browser context is closed")

// isolatedContext is one CDP browser context plus the tabs opened in it.
type isolatedContext struct {
	id               string
	browserContextID cdp.BrowserContextID
	manager          *Manager
	logger           *zap.Logger

	mu     sync.Mutex
	tabs   map[string]context.CancelFunc
	closed bool
}

var _ Context = (*isolatedContext)(nil)

func (ic *isolatedContext) ID() string { return ic.id }

func (ic *isolatedContext) NewTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	ic.mu.Lock()
	if ic.closed {
		ic.mu.Unlock()
		return nil, nil, ErrContextClosed
	}
	ic.mu.Unlock()

	callCtx, cancel := ic.manager.commandContext(ctx)
	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(ic.browserContextID).Do(callCtx)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(ic.manager.browserCtx, chromedp.WithTargetID(targetID))
	stop := context.AfterFunc(ctx, tabCancel)

	// Attach and apply the persona before the caller navigates anywhere.
	if err := chromedp.Run(tabCtx, stealth.Apply(ic.manager.persona, ic.logger)); err != nil {
		stop()
		tabCancel()
		return nil, nil, fmt.Errorf("failed to prepare tab: %w", err)
	}

	key := string(targetID)
	var once sync.Once
	closeTab := func() {
		once.Do(func() {
			stop()
			tabCancel()
			ic.mu.Lock()
			delete(ic.tabs, key)
			ic.mu.Unlock()
		})
	}

	ic.mu.Lock()
	if ic.closed {
		ic.mu.Unlock()
		closeTab()
		return nil, nil, ErrContextClosed
	}
	ic.tabs[key] = tabCancel
	ic.mu.Unlock()

	ic.logger.Debug("Tab opened.", zap.String("target_id", key))
	return tabCtx, closeTab, nil
}

func (ic *isolatedContext) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	ic.mu.Lock()
	closed := ic.closed
	ic.mu.Unlock()
	if closed {
		return nil, ErrContextClosed
	}

	callCtx, cancel := ic.manager.commandContext(ctx)
	defer cancel()
	raw, err := storage.GetCookies().WithBrowserContextID(ic.browserContextID).Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return convertCookies(raw), nil
}

func (ic *isolatedContext) Close(ctx context.Context) error {
	ic.mu.Lock()
	if ic.closed {
		ic.mu.Unlock()
		return nil
	}
	ic.closed = true
	tabs := ic.tabs
	ic.tabs = nil
	ic.mu.Unlock()

	for _, cancel := range tabs {
		cancel()
	}
	defer ic.manager.forget(ic.id)

	if err := ic.manager.disposeBrowserContext(ctx, ic.browserContextID); err != nil {
		ic.logger.Warn("Failed to dispose browser context.", zap.Error(err))
		return fmt.Errorf("failed to dispose browser context: %w", err)
	}
	ic.logger.Debug("Browser context closed.", zap.Int("tabs", len(tabs)))
	return nil
}

// convertCookies maps CDP cookies to net/http ones. Session cookies keep a zero Expires.
func convertCookies(raw []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		switch c.SameSite {
		case network.CookieSameSiteStrict:
			hc.SameSite = http.SameSiteStrictMode
		case network.CookieSameSiteLax:
			hc.SameSite = http.SameSiteLaxMode
		case network.CookieSameSiteNone:
			hc.SameSite = http.SameSiteNoneMode
		}
		out = append(out, hc)
	}
	return out
}
