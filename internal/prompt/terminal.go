package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Terminal implements Prompter and Reporter on an interactive terminal.
type Terminal struct {
	in     io.Reader
	out    io.Writer
	styles Styles

	// run is swapped in tests.
	run func(ctx context.Context, m tea.Model) (tea.Model, error)
	mu  sync.Mutex
}

var (
	_ Prompter = (*Terminal)(nil)
	_ Reporter = (*Terminal)(nil)
)

// NewTerminal binds to stdin and stdout when in or out is nil.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	t := &Terminal{in: in, out: out, styles: DefaultStyles()}
	t.run = t.runProgram
	return t
}

func (t *Terminal) runProgram(ctx context.Context, m tea.Model) (tea.Model, error) {
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return final, nil
}

func (t *Terminal) SelectSite(ctx context.Context, sites []string) (int, error) {
	if len(sites) == 0 {
		return -1, errors.New("no sites registered")
	}
	final, err := t.run(ctx, newSelectModel("Select website", sites, t.styles))
	if err != nil {
		return -1, err
	}
	m := final.(selectModel)
	if m.canceled || m.choice < 0 {
		return -1, ErrCanceled
	}
	return m.choice, nil
}

func (t *Terminal) Credentials(ctx context.Context, defUser, defPass string) (string, string, error) {
	user, err := t.ask(ctx, inputOptions{label: "Username", def: defUser, required: true})
	if err != nil {
		return "", "", err
	}
	pass, err := t.ask(ctx, inputOptions{label: "Password", def: defPass, password: true, required: true})
	if err != nil {
		return "", "", err
	}
	return user, pass, nil
}

func (t *Terminal) Link(ctx context.Context) (string, error) {
	return t.ask(ctx, inputOptions{label: "Link", required: true})
}

func (t *Terminal) OutputDir(ctx context.Context, def string) (string, error) {
	return t.ask(ctx, inputOptions{label: "Output folder", def: def, required: true})
}

func (t *Terminal) ask(ctx context.Context, opts inputOptions) (string, error) {
	final, err := t.run(ctx, newInputModel(opts, t.styles))
	if err != nil {
		return "", err
	}
	m := final.(inputModel)
	if m.canceled || !m.done {
		return "", ErrCanceled
	}
	return m.value, nil
}

func (t *Terminal) Info(msg string)    { t.line(t.styles.Info.Render("•"), msg) }
func (t *Terminal) Success(msg string) { t.line(t.styles.Success.Render("✔"), msg) }
func (t *Terminal) Fail(msg string)    { t.line(t.styles.Fail.Render("✖"), msg) }

func (t *Terminal) line(symbol, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", symbol, msg)
}
