package orchestrator

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/scribe-cli/internal/prompt"
)

// State is one node of the session state machine.
type State int

const (
	StateInit State = iota
	StateSelectSite
	StateLogin
	StateDownload
	StateLogout
	StateExit
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSelectSite:
		return "SelectSite"
	case StateLogin:
		return "Login"
	case StateDownload:
		return "Download"
	case StateLogout:
		return "Logout"
	case StateExit:
		return "Exit"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// holdsSession reports whether a context and token may be bound in s.
func (s State) holdsSession() bool {
	return s == StateLogin || s == StateDownload || s == StateLogout
}

var (
	// ErrLoginFailed routes the session back to the credential prompt.
	ErrLoginFailed = errors.New("login failed")
	// ErrCanceled routes the session back to the previous menu.
	ErrCanceled = prompt.ErrCanceled
)

// Snapshot is what an observer sees on entry to each state.
type Snapshot struct {
	State      State
	Site       string
	Prefix     string
	HasContext bool
	HasToken   bool
	HasAdapter bool
}
