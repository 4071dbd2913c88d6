package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPersonaFor(t *testing.T) {
	t.Run("empty values keep the default", func(t *testing.T) {
		p := PersonaFor("", "", "")
		assert.Equal(t, DefaultPersona, p)
	})

	t.Run("overrides", func(t *testing.T) {
		p := PersonaFor("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)", "en-GB", "Europe/London")
		assert.Equal(t, "MacIntel", p.Platform)
		assert.Equal(t, "Europe/London", p.Timezone)
		assert.Equal(t, "en-GB", p.Locale)
		assert.Equal(t, []string{"en-GB", "en"}, p.Languages)
	})

	t.Run("does not alias the default languages", func(t *testing.T) {
		p := PersonaFor("", "", "")
		p.Languages[0] = "xx"
		assert.Equal(t, "vi-VN", DefaultPersona.Languages[0])
	})
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7", DefaultPersona.AcceptLanguage())
	assert.Equal(t, "fr", Persona{Locale: "fr"}.AcceptLanguage())
}

func TestEvasionsScript(t *testing.T) {
	script := EvasionsScript(DefaultPersona)
	assert.Contains(t, script, `platform: "Win32"`)
	assert.Contains(t, script, `languages: ["vi-VN","vi","en-US","en"]`)
	assert.Contains(t, script, "webdriver")
}

func TestApply(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tasks := Apply(DefaultPersona, zap.New(core))

	assert.Len(t, tasks, 5)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Applying browser stealth persona", logs.All()[0].Message)
}
