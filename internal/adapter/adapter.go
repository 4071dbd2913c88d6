// Package adapter defines the contract every site integration implements and the
// static registry the session picks from.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/media"
	"github.com/xkilldash9x/scribe-cli/internal/network"
)

// Token is the opaque session handle an adapter returns from Login. A nil Token,
// a typed nil, or a zero scalar ("", false, 0) means the credentials were rejected.
type Token = any

// Adapter integrates one site. Implementations are immutable after construction.
type Adapter interface {
	// Website is the stable domain name used as registry label and store namespace.
	Website() string
	// Login authenticates inside bctx. Expected authentication failures return a nil
	// token and a nil error.
	Login(ctx context.Context, bctx browser.Context, username, password string) (Token, error)
	// Logout is best effort; the caller ignores its error.
	Logout(ctx context.Context, bctx browser.Context, token Token) error
	// Download fetches the content behind link into the output directory. It owns its
	// retries and either completes or errors.
	Download(ctx context.Context, bctx browser.Context, token Token, link, output string) error
}

// Deps are the shared collaborators handed to adapters at construction.
type Deps struct {
	Logger *zap.Logger
	// Client is the template for the adapter's own HTTP clients.
	Client *network.ClientConfig
	// Proxy is nil when interception is disabled.
	Proxy  *network.InterceptionProxy
	Runner *media.Runner
}

// ErrDuplicateSite is returned when two adapters share a website or store prefix.
var ErrDuplicateSite = errors.New("duplicate site")

// Prefix is the store namespace for a website: its first dot separated label.
func Prefix(website string) string {
	label, _, _ := strings.Cut(website, ".")
	return label
}

// Registry is the ordered, fixed set of adapters known to the session.
type Registry struct {
	adapters []Adapter
	byName   map[string]Adapter
}

// NewRegistry builds a registry in the given order.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{byName: make(map[string]Adapter, len(adapters))}
	prefixes := make(map[string]string, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return nil, errors.New("nil adapter")
		}
		site := a.Website()
		if site == "" || Prefix(site) == "" {
			return nil, fmt.Errorf("adapter %T has an empty website", a)
		}
		if _, ok := r.byName[site]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSite, site)
		}
		if other, ok := prefixes[Prefix(site)]; ok {
			return nil, fmt.Errorf("%w: %s and %s share prefix %q", ErrDuplicateSite, other, site, Prefix(site))
		}
		prefixes[Prefix(site)] = site
		r.byName[site] = a
		r.adapters = append(r.adapters, a)
	}
	return r, nil
}

// Sites lists the websites in registration order.
func (r *Registry) Sites() []string {
	sites := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		sites[i] = a.Website()
	}
	return sites
}

func (r *Registry) Len() int { return len(r.adapters) }

// At returns the adapter at index i of Sites.
func (r *Registry) At(i int) (Adapter, error) {
	if i < 0 || i >= len(r.adapters) {
		return nil, fmt.Errorf("site index %d out of range", i)
	}
	return r.adapters[i], nil
}

// Lookup finds an adapter by website or by its store prefix.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	if a, ok := r.byName[name]; ok {
		return a, true
	}
	for _, a := range r.adapters {
		if Prefix(a.Website()) == name {
			return a, true
		}
	}
	return nil, false
}
