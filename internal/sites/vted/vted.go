// Package vted downloads lessons and practice exams from vted.vn.
package vted

import (
	"context"
	"errors"
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
	Website = "vted.vn"

	defaultOrigin   = "https://vted.vn"
	defaultLoginURL = "https://account.vted.vn/Account/Login"

	navigationTimeout = 20 * time.Second
	pageConcurrency   = 5
)

// Session holds the cookies captured after login.
type Session struct {
	Cookies []*http.Cookie
}

// batchRunner is the part of media.Runner the adapter needs.
type batchRunner interface {
	Aria2c(ctx context.Context, job media.BatchJob) error
}

// Adapter implements adapter.Adapter for vted.vn.
type Adapter struct {
	logger   *zap.Logger
	client   *network.ClientConfig
	runner   batchRunner
	origin   string
	loginURL string

	lessonLink *regexp.Regexp
	examLink   *regexp.Regexp
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithOrigin serves the site from another origin.
func WithOrigin(origin string) Option { return func(a *Adapter) { a.origin = strings.TrimSuffix(origin, "/") } }

// WithLoginURL overrides the account login page.
func WithLoginURL(u string) Option { return func(a *Adapter) { a.loginURL = u } }

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
		logger:   logger.Named("vted"),
		client:   cc,
		origin:   defaultOrigin,
		loginURL: defaultLoginURL,
	}
	if deps.Runner != nil {
		a.runner = deps.Runner
	}
	for _, opt := range opts {
		opt(a)
	}
	origin := regexp.QuoteMeta(a.origin)
	a.lessonLink = regexp.MustCompile("^" + origin + `/khoa-hoc/baigiang.+`)
	a.examLink = regexp.MustCompile("^" + origin + `/on-tap/.+`)
	return a
}

func (a *Adapter) Website() string { return Website }

// Login fills the account form. The site keeps the login page open on bad
// credentials, which is reported as a nil token.
func (a *Adapter) Login(ctx context.Context, bctx browser.Context, username, password string) (adapter.Token, error) {
	tab, closeTab, err := bctx.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	defer closeTab()

	err = chromedp.Run(tab,
		chromedp.Navigate(a.loginURL),
		chromedp.WaitVisible("#Email", chromedp.ByQuery),
		chromedp.SendKeys("#Email", username, chromedp.ByQuery),
		chromedp.SendKeys("#Password", password, chromedp.ByQuery),
		chromedp.Click("input[type=submit]", chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("filling login form: %w", err)
	}

	loc, err := waitLeave(tab, a.loginURL, navigationTimeout)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(loc, a.loginURL) {
		a.logger.Info("Login page did not redirect.")
		return nil, nil
	}

	cookies, err := bctx.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{Cookies: cookies}, nil
}

func (a *Adapter) Logout(ctx context.Context, bctx browser.Context, _ adapter.Token) error {
	tab, closeTab, err := bctx.NewTab(ctx)
	if err != nil {
		return err
	}
	defer closeTab()

	tctx, cancel := context.WithTimeout(tab, navigationTimeout)
	defer cancel()
	return chromedp.Run(tctx,
		chromedp.Navigate(a.origin),
		chromedp.Submit("form#logoutForm", chromedp.ByQuery),
	)
}

func (a *Adapter) Download(ctx context.Context, bctx browser.Context, token adapter.Token, link, output string) error {
	s, ok := token.(*Session)
	if !ok || s == nil {
		return fmt.Errorf("vted: invalid session token %T", token)
	}
	// The browser holds the freshest cookies; the login snapshot is the fallback.
	cookies := s.Cookies
	if bctx != nil {
		if fresh, err := bctx.Cookies(ctx); err == nil && len(fresh) > 0 {
			cookies = fresh
		}
	}
	client, err := a.newClient(cookies)
	if err != nil {
		return err
	}

	switch {
	case a.examLink.MatchString(link):
		return a.downloadExam(ctx, bctx, client, link, output)
	case a.lessonLink.MatchString(link):
		return a.downloadLesson(ctx, client, link, output)
	default:
		a.logger.Warn("Unsupported link.", zap.String("link", link))
		return nil
	}
}

func (a *Adapter) newClient(cookies []*http.Cookie) (*network.Client, error) {
	jar, err := network.NewCookieJar(a.origin, cookies)
	if err != nil {
		return nil, fmt.Errorf("building cookie jar: %w", err)
	}
	cc := a.client.Clone()
	cc.Jar = jar
	if cc.Headers == nil {
		cc.Headers = map[string]string{}
	}
	cc.Headers["Referer"] = a.origin
	return network.NewClient(cc), nil
}

// waitLeave polls the tab location until it no longer starts with from.
func waitLeave(tab context.Context, from string, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	var loc string
	for {
		if err := chromedp.Run(tab, chromedp.Location(&loc)); err != nil {
			return "", fmt.Errorf("reading location: %w", err)
		}
		if !strings.HasPrefix(loc, from) {
			return loc, nil
		}
		select {
		case <-tab.Done():
			return "", tab.Err()
		case <-deadline.C:
			return loc, nil
		case <-tick.C:
		}
	}
}

var errMissing = errors.New("element not found")
