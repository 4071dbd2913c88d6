// Package sites bundles the adapters shipped with scribe.
package sites

import (
	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/sites/bmc"
	"github.com/xkilldash9x/scribe-cli/internal/sites/moon"
	"github.com/xkilldash9x/scribe-cli/internal/sites/vted"
)

// NewRegistry builds the registry of bundled adapters in menu order. Adapters that
// intercept traffic register their proxy hooks here, so call it before starting
// deps.Proxy.
func NewRegistry(deps adapter.Deps) (*adapter.Registry, error) {
	return adapter.NewRegistry(
		vted.New(deps),
		moon.New(deps),
		bmc.New(deps),
	)
}
