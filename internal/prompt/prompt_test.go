package prompt

import (
	"bytes"
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func typeText(m tea.Model, s string) tea.Model {
	for _, r := range s {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

// -- Select --

func TestSelectModel(t *testing.T) {
	sites := []string{"bmc.io.vn", "vted.vn", "moon.vn"}

	t.Run("enter picks the highlighted site", func(t *testing.T) {
		var m tea.Model = newSelectModel("Select website", sites, DefaultStyles())
		m, _ = m.Update(key(tea.KeyDown))
		m, cmd := m.Update(key(tea.KeyEnter))
		require.NotNil(t, cmd)

		sm := m.(selectModel)
		assert.Equal(t, 1, sm.choice)
		assert.False(t, sm.canceled)
		assert.Empty(t, sm.View())
	})

	t.Run("escape cancels", func(t *testing.T) {
		var m tea.Model = newSelectModel("Select website", sites, DefaultStyles())
		m, cmd := m.Update(key(tea.KeyEsc))
		require.NotNil(t, cmd)
		assert.True(t, m.(selectModel).canceled)
	})

	t.Run("view lists the sites", func(t *testing.T) {
		view := newSelectModel("Select website", sites, DefaultStyles()).View()
		for _, s := range sites {
			assert.Contains(t, view, s)
		}
	})
}

// -- Input --

func TestInputModel(t *testing.T) {
	t.Run("typed value wins over the default", func(t *testing.T) {
		var m tea.Model = newInputModel(inputOptions{label: "Username", def: "stored"}, DefaultStyles())
		m = typeText(m, "  alice ")
		m, cmd := m.Update(key(tea.KeyEnter))
		require.NotNil(t, cmd)
		im := m.(inputModel)
		assert.True(t, im.done)
		assert.Equal(t, "alice", im.value)
	})

	t.Run("empty answer takes the default", func(t *testing.T) {
		var m tea.Model = newInputModel(inputOptions{label: "Output folder", def: "/data/out", required: true}, DefaultStyles())
		m, _ = m.Update(key(tea.KeyEnter))
		assert.Equal(t, "/data/out", m.(inputModel).value)
	})

	t.Run("required without a default is rejected", func(t *testing.T) {
		var m tea.Model = newInputModel(inputOptions{label: "Link", required: true}, DefaultStyles())
		m, cmd := m.Update(key(tea.KeyEnter))
		assert.Nil(t, cmd)
		im := m.(inputModel)
		assert.False(t, im.done)
		assert.Contains(t, im.View(), "Link is required")

		m = typeText(m, "https://vted.vn/on-tap/1")
		assert.NotContains(t, m.View(), "is required", "typing clears the error")
	})

	t.Run("escape cancels", func(t *testing.T) {
		var m tea.Model = newInputModel(inputOptions{label: "Link"}, DefaultStyles())
		m, _ = m.Update(key(tea.KeyEsc))
		assert.True(t, m.(inputModel).canceled)
	})

	t.Run("stored password is never echoed", func(t *testing.T) {
		m := newInputModel(inputOptions{label: "Password", def: "hunter2", password: true}, DefaultStyles())
		assert.NotContains(t, m.View(), "hunter2")
	})
}

// -- Terminal --

// scripted replays canned key presses into each program run.
func scripted(t *testing.T, answers ...[]tea.Msg) *Terminal {
	t.Helper()
	term := NewTerminal(strings.NewReader(""), &bytes.Buffer{})
	term.run = func(ctx context.Context, m tea.Model) (tea.Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		require.NotEmpty(t, answers, "unexpected prompt")
		msgs := answers[0]
		answers = answers[1:]
		for _, msg := range msgs {
			m, _ = m.Update(msg)
		}
		return m, nil
	}
	return term
}

func runes(s string) tea.Msg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestTerminal_Prompts(t *testing.T) {
	ctx := context.Background()

	term := scripted(t,
		[]tea.Msg{key(tea.KeyDown), key(tea.KeyDown), key(tea.KeyEnter)},
		[]tea.Msg{key(tea.KeyEnter)},
		[]tea.Msg{runes("secret"), key(tea.KeyEnter)},
		[]tea.Msg{runes("https://moon.vn/video/id/1/2"), key(tea.KeyEnter)},
		[]tea.Msg{key(tea.KeyEsc)},
	)

	idx, err := term.SelectSite(ctx, []string{"a.vn", "b.vn", "c.vn"})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	user, pass, err := term.Credentials(ctx, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
	assert.Equal(t, "secret", pass)

	link, err := term.Link(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://moon.vn/video/id/1/2", link)

	_, err = term.OutputDir(ctx, "/tmp")
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestTerminal_Cancellation(t *testing.T) {
	term := scripted(t, []tea.Msg{key(tea.KeyEsc)})
	_, err := term.SelectSite(context.Background(), []string{"a.vn"})
	assert.ErrorIs(t, err, ErrCanceled)

	_, err = term.SelectSite(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = scripted(t).Credentials(ctx, "", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTerminal_Reporter(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)
	term.Info("Logging in...")
	term.Success("Login success!")
	term.Fail("Login failed! Check your credentials")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Logging in...")
	assert.Contains(t, lines[1], "✔")
	assert.Contains(t, lines[2], "✖")
}
