// Package prompt collects operator input and prints session status lines.
package prompt

import (
	"context"
	"errors"
)

// ErrCanceled is returned when the operator dismisses a prompt.
var ErrCanceled = errors.New("canceled by operator")

// Prompter asks the operator for the values the session needs.
type Prompter interface {
	// SelectSite returns the index of the chosen site.
	SelectSite(ctx context.Context, sites []string) (int, error)
	// Credentials prompts for username then password, offering the stored values as defaults.
	Credentials(ctx context.Context, defUser, defPass string) (username, password string, err error)
	Link(ctx context.Context) (string, error)
	OutputDir(ctx context.Context, def string) (string, error)
}

// Reporter prints one status line per event.
type Reporter interface {
	Info(msg string)
	Success(msg string)
	Fail(msg string)
}
