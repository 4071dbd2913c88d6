package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scribe-cli/internal/store"
)

// writeConfig writes a config that keeps logs and the store inside a temp dir.
func writeConfig(t *testing.T, extra string) (cfgPath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	storePath = filepath.Join(dir, "store.json")
	content := `
logger:
  level: fatal
  log_file: ""
store:
  backend: file
  path: ` + storePath + `
proxy:
  enabled: false
` + extra
	cfgPath = filepath.Join(dir, "scribe.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, storePath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "scribe version "+Version+"\n", out)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "scribe version "+Version)
}

func TestSitesCmd(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	out, err := execute(t, "--config", cfgPath, "sites")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"#", "SITE", "PREFIX"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "vted.vn", "vted"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"3", "bmc.io.vn", "bmc"}, strings.Fields(lines[3]))
}

func TestForgetCmd(t *testing.T) {
	cfgPath, storePath := writeConfig(t, "")
	ctx := context.Background()

	fs, err := store.NewFileStore(storePath, zaptest.NewLogger(t))
	require.NoError(t, err)
	creds := store.NewCredentials(fs)
	require.NoError(t, creds.SaveLogin(ctx, "moon", "hs", "pw"))
	require.NoError(t, creds.SaveOutput(ctx, "moon", "/tmp/out"))
	require.NoError(t, creds.SaveLogin(ctx, "bmc", "keep", "me"))

	out, err := execute(t, "--config", cfgPath, "forget", "moon.vn")
	require.NoError(t, err)
	assert.Contains(t, out, "Forgot stored settings for moon.vn.")

	reloaded, err := store.NewFileStore(storePath, zaptest.NewLogger(t))
	require.NoError(t, err)
	rec, err := store.NewCredentials(reloaded).Load(ctx, "moon")
	require.NoError(t, err)
	assert.Equal(t, store.Record{}, rec)
	rec, err = store.NewCredentials(reloaded).Load(ctx, "bmc")
	require.NoError(t, err)
	assert.Equal(t, "keep", rec.Username)
}

func TestForgetCmd_Errors(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "forget")
	assert.ErrorContains(t, err, "accepts 1 arg(s)")

	_, err = execute(t, "--config", cfgPath, "forget", "example.com")
	assert.ErrorContains(t, err, `unknown site "example.com"`)
}

func TestLoadConfig(t *testing.T) {
	cfgPath, storePath := writeConfig(t, "session:\n  adapter_timeout: 2m\n")
	t.Setenv("SCRIBE_TOOLS_CONCURRENCY", "7")

	cfg, err := loadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, storePath, cfg.Store().Path)
	assert.False(t, cfg.Proxy().Enabled)
	assert.Equal(t, "2m0s", cfg.Session().AdapterTimeout.String())
	assert.Equal(t, 7, cfg.Tools().Concurrency, "environment overrides the file")
	assert.True(t, cfg.Browser().Headless, "defaults fill the rest")
}

func TestLoadConfig_Invalid(t *testing.T) {
	cfgPath, _ := writeConfig(t, "tools:\n  concurrency: 0\n")
	_, err := loadConfig(cfgPath)
	assert.ErrorContains(t, err, "tools.concurrency")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestRootCmd_RequiresTerminal(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	orig := isTerminal
	isTerminal = func(io.Reader) bool { return false }
	t.Cleanup(func() { isTerminal = orig })

	_, err := execute(t, "--config", cfgPath)
	assert.ErrorIs(t, err, ErrNoTerminal)
}

func TestNewProxy(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	cfg, err := loadConfig(cfgPath)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	p, err := newProxy(cfg, logger)
	require.NoError(t, err)
	assert.Nil(t, p, "disabled proxy")

	cfg.ProxyCfg.Enabled = true
	cfg.ProxyCfg.Address = "127.0.0.1:0"
	cfg.ProxyCfg.MITM = true
	p, err = newProxy(cfg, logger)
	require.NoError(t, err)
	assert.True(t, p.MITMEnabled())

	cfg.ProxyCfg.MITM = false
	p, err = newProxy(cfg, logger)
	require.NoError(t, err)
	assert.False(t, p.MITMEnabled())

	cfg.ProxyCfg.MITM = true
	cfg.ProxyCfg.CACert, cfg.ProxyCfg.CAKey = "/nonexistent/ca.pem", "/nonexistent/ca.key"
	_, err = newProxy(cfg, logger)
	assert.ErrorContains(t, err, "interception CA")
}

func TestApplyFlags(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	cfg, err := loadConfig(cfgPath)
	require.NoError(t, err)
	cfg.ProxyCfg.Enabled = true
	require.True(t, cfg.Browser().Headless)

	(&app{}).applyFlags(cfg)
	assert.True(t, cfg.Browser().Headless, "no flags, no change")

	(&app{headed: true, noProxy: true}).applyFlags(cfg)
	assert.False(t, cfg.Browser().Headless)
	assert.False(t, cfg.Proxy().Enabled)
}
