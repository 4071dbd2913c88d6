// Package moon downloads lesson videos and captures exams from moon.vn.
package moon

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/media"
	"github.com/xkilldash9x/scribe-cli/internal/network"
)

const (
	Website = "moon.vn"

	defaultOrigin = "https://moon.vn"

	loginSettle    = 10 * time.Second
	elementTimeout = 10 * time.Second
	apiConcurrency = 5
)

// Session holds the cookies captured after login.
type Session struct {
	Cookies []*http.Cookie
}

// videoRunner is the part of media.Runner the adapter needs.
type videoRunner interface {
	YTDLP(ctx context.Context, job media.VideoJob) error
	Concurrency() int
}

// Adapter implements adapter.Adapter for moon.vn.
type Adapter struct {
	logger *zap.Logger
	client *network.ClientConfig
	runner videoRunner
	// proxy is nil when interception is disabled. Its address is read per
	// download since the adapter is built before the proxy binds.
	proxy  *network.InterceptionProxy
	keys   *KeyCache
	origin string

	videoLink *regexp.Regexp
	examLink  *regexp.Regexp
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithOrigin serves the site from another origin.
func WithOrigin(origin string) Option { return func(a *Adapter) { a.origin = strings.TrimSuffix(origin, "/") } }

// WithKeyCache replaces the default HLS key cache.
func WithKeyCache(c *KeyCache) Option { return func(a *Adapter) { a.keys = c } }

// New builds the adapter and, when interception is enabled, installs the key
// cache on the proxy.
func New(deps adapter.Deps, opts ...Option) *Adapter {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := network.NewDefaultClientConfig()
	if deps.Client != nil {
		cc = deps.Client.Clone()
	}
	cc.Logger = logger

	a := &Adapter{
		logger: logger.Named("moon"),
		client: cc,
		proxy:  deps.Proxy,
		origin: defaultOrigin,
	}
	if deps.Runner != nil {
		a.runner = deps.Runner
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.keys == nil {
		a.keys = NewKeyCache(nil, keyCacheSize, logger)
	}
	if deps.Proxy != nil {
		a.keys.Install(deps.Proxy)
	}

	origin := regexp.QuoteMeta(a.origin)
	a.videoLink = regexp.MustCompile("^" + origin + `/video/id/\d+/\d+`)
	a.examLink = regexp.MustCompile("^" + origin + `/(de-thi/id|english-id)/\d+/\d+`)
	return a
}

func (a *Adapter) Website() string { return Website }

func (a *Adapter) proxyURL() string {
	if a.proxy == nil {
		return ""
	}
	return a.proxy.URL()
}

// Login submits the login form. Success redirects to the home page; anything
// else within loginSettle counts as rejected credentials.
func (a *Adapter) Login(ctx context.Context, bctx browser.Context, username, password string) (adapter.Token, error) {
	tab, closeTab, err := bctx.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	defer closeTab()

	err = chromedp.Run(tab,
		chromedp.Navigate(a.origin+"/login"),
		chromedp.WaitVisible(".field input[type='text']", chromedp.ByQuery),
		chromedp.SendKeys(".field input[type='text']", username, chromedp.ByQuery),
		chromedp.SendKeys(".field input[type='password']", password, chromedp.ByQuery),
		chromedp.Click(".field input[type='button']", chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("filling login form: %w", err)
	}

	home := a.origin + "/"
	if ok, err := waitLocation(tab, home, loginSettle); err != nil || !ok {
		if err != nil {
			return nil, err
		}
		a.logger.Info("Login did not reach the home page.")
		return nil, nil
	}

	cookies, err := bctx.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{Cookies: cookies}, nil
}

// Logout opens the avatar menu and clicks "Đăng xuất".
func (a *Adapter) Logout(ctx context.Context, bctx browser.Context, _ adapter.Token) error {
	tab, closeTab, err := bctx.NewTab(ctx)
	if err != nil {
		return err
	}
	defer closeTab()

	if err := chromedp.Run(tab, chromedp.Navigate(a.origin)); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(tab, elementTimeout)
	defer cancel()
	return chromedp.Run(wctx,
		chromedp.Click(".mud-avatar-medium", chromedp.ByQuery),
		chromedp.Click(`//a[contains(text(), 'Đăng xuất')]`, chromedp.BySearch),
	)
}

func (a *Adapter) Download(ctx context.Context, bctx browser.Context, token adapter.Token, link, output string) error {
	if s, ok := token.(*Session); !ok || s == nil {
		return fmt.Errorf("moon: invalid session token %T", token)
	}
	switch {
	case a.videoLink.MatchString(link):
		return a.downloadVideos(ctx, bctx, link, output)
	case a.examLink.MatchString(link):
		return a.downloadExam(ctx, bctx, link, output)
	default:
		a.logger.Warn("Unsupported link.", zap.String("link", link))
		return nil
	}
}

// waitLocation polls until the tab is exactly at want or timeout passes.
func waitLocation(tab context.Context, want string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		var loc string
		if err := chromedp.Run(tab, chromedp.Location(&loc)); err != nil {
			return false, fmt.Errorf("reading location: %w", err)
		}
		if loc == want {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-tab.Done():
			return false, tab.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
