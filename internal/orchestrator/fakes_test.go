package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/browser"
)

// -- Automation host --

type fakeHost struct {
	mu        sync.Mutex
	created   int
	live      int
	maxLive   int
	contexts  []*fakeContext
	failNext  error
	shutdowns atomic.Int32
}

func (h *fakeHost) NewContext(context.Context) (browser.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failNext; err != nil {
		h.failNext = nil
		return nil, err
	}
	h.created++
	h.live++
	if h.live > h.maxLive {
		h.maxLive = h.live
	}
	c := &fakeContext{host: h, id: string(rune('a' + h.created - 1))}
	h.contexts = append(h.contexts, c)
	return c, nil
}

func (h *fakeHost) Shutdown(context.Context) error {
	h.shutdowns.Add(1)
	return nil
}

func (h *fakeHost) liveContexts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

type fakeContext struct {
	host   *fakeHost
	id     string
	closes int
}

func (c *fakeContext) ID() string { return c.id }
func (c *fakeContext) NewTab(context.Context) (context.Context, context.CancelFunc, error) {
	return nil, nil, errors.New("no tabs in fake context")
}
func (c *fakeContext) Cookies(context.Context) ([]*http.Cookie, error) { return nil, nil }
func (c *fakeContext) Close(context.Context) error {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()
	if c.closes == 0 {
		c.host.live--
	}
	c.closes++
	return nil
}

// -- Interception service --

type fakeProxy struct{ stops atomic.Int32 }

func (p *fakeProxy) Stop(context.Context) error {
	p.stops.Add(1)
	return nil
}

// -- Adapter --

type mockAdapter struct {
	mock.Mock
	site string
}

func (m *mockAdapter) Website() string { return m.site }

func (m *mockAdapter) Login(ctx context.Context, bctx browser.Context, username, password string) (adapter.Token, error) {
	args := m.Called(ctx, bctx, username, password)
	return args.Get(0), args.Error(1)
}

func (m *mockAdapter) Logout(ctx context.Context, bctx browser.Context, token adapter.Token) error {
	return m.Called(ctx, bctx, token).Error(0)
}

func (m *mockAdapter) Download(ctx context.Context, bctx browser.Context, token adapter.Token, link, output string) error {
	return m.Called(ctx, bctx, token, link, output).Error(0)
}

// -- Prompts --

// answer is one scripted reply. An empty queue answers ErrCanceled.
type answer struct {
	value      string
	secret     string
	useDefault bool
	err        error
	hook       func()
}

type fakePrompter struct {
	sites   []answer
	creds   []answer
	links   []answer
	outputs []answer

	credDefaults   [][2]string
	outputDefaults []string
}

func pop(q *[]answer) (answer, bool) {
	if len(*q) == 0 {
		return answer{}, false
	}
	a := (*q)[0]
	*q = (*q)[1:]
	if a.hook != nil {
		a.hook()
	}
	return a, true
}

func (p *fakePrompter) SelectSite(ctx context.Context, sites []string) (int, error) {
	a, ok := pop(&p.sites)
	if !ok {
		return -1, ErrCanceled
	}
	if a.err != nil {
		return -1, a.err
	}
	for i, s := range sites {
		if s == a.value {
			return i, nil
		}
	}
	return -1, errors.New("unknown site " + a.value)
}

func (p *fakePrompter) Credentials(ctx context.Context, defUser, defPass string) (string, string, error) {
	p.credDefaults = append(p.credDefaults, [2]string{defUser, defPass})
	a, ok := pop(&p.creds)
	if !ok {
		return "", "", ErrCanceled
	}
	if a.err != nil {
		return "", "", a.err
	}
	if a.useDefault {
		return defUser, defPass, nil
	}
	return a.value, a.secret, nil
}

func (p *fakePrompter) Link(ctx context.Context) (string, error) {
	a, ok := pop(&p.links)
	if !ok {
		return "", ErrCanceled
	}
	return a.value, a.err
}

func (p *fakePrompter) OutputDir(ctx context.Context, def string) (string, error) {
	p.outputDefaults = append(p.outputDefaults, def)
	a, ok := pop(&p.outputs)
	if !ok {
		return "", ErrCanceled
	}
	if a.useDefault {
		return def, a.err
	}
	return a.value, a.err
}

// -- Status lines --

type recordingReporter struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingReporter) add(kind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, kind+": "+msg)
}

func (r *recordingReporter) Info(msg string)    { r.add("info", msg) }
func (r *recordingReporter) Success(msg string) { r.add("success", msg) }
func (r *recordingReporter) Fail(msg string)    { r.add("fail", msg) }
