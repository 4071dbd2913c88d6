package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/network"
)

func TestNewRegistry(t *testing.T) {
	proxy, err := network.NewInterceptionProxy("127.0.0.1:0", nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	reg, err := NewRegistry(adapter.Deps{Logger: zaptest.NewLogger(t), Proxy: proxy})
	require.NoError(t, err)
	assert.Equal(t, []string{"vted.vn", "moon.vn", "bmc.io.vn"}, reg.Sites())

	for _, prefix := range []string{"vted", "moon", "bmc"} {
		a, ok := reg.Lookup(prefix)
		require.True(t, ok, prefix)
		assert.Equal(t, prefix, adapter.Prefix(a.Website()))
	}
}
