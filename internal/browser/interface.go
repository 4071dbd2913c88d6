// Package browser owns the shared automation browser and hands out isolated contexts.
package browser

import (
	"context"
	"errors"
	"net/http"
)

// ErrHostClosed is returned when a context is requested after Shutdown.
var ErrHostClosed = errors.New("browser host is shut down")

// Host owns one browser process shared by every site.
type Host interface {
	// NewContext creates an isolated context: its own cookies, storage and cache.
	NewContext(ctx context.Context) (Context, error)
	// Shutdown closes every open context and terminates the process.
	Shutdown(ctx context.Context) error
}

// Context is one isolated browser context. It is owned by a single session cycle
// and must be closed by its owner.
type Context interface {
	ID() string
	// NewTab opens a page in this context. The returned context drives the tab with
	// chromedp; cancel closes the tab. The tab is also closed when ctx is done.
	NewTab(ctx context.Context) (context.Context, context.CancelFunc, error)
	// Cookies returns every cookie stored in this context.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// Close disposes the context and its tabs. Closing twice is a no-op.
	Close(ctx context.Context) error
}
