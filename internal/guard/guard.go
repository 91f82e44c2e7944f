// Package guard decides when a trading mode change is allowed. Real-money
// trading can never be enabled silently: it needs a connected broker and an
// explicit confirmation, re-checked at the moment the change applies.
package guard

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/deskbot/godesk/internal/session"
	"github.com/deskbot/godesk/internal/trademode"
)

// RejectedError means the requested mode is not reachable from the current
// state. No confirmation prompt should follow it.
type RejectedError struct {
	Requested trademode.Mode
	Reason    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("cannot enter %s mode: %s", e.Requested, e.Reason)
}

// ErrConfirmationRequired is the answer to an unconfirmed live request.
// The caller shows the prompt and retries with confirmed set.
var ErrConfirmationRequired = errors.New("live trading requires explicit confirmation")

type Guard struct {
	session *session.Session
}

func New(sess *session.Session) *Guard {
	return &Guard{session: sess}
}

var _ trademode.Gate = (*Guard)(nil)

// CanEnter checks reachability only; confirmation is a separate question.
// Demo and Paper are always reachable.
func (g *Guard) CanEnter(requested trademode.Mode, s session.State) error {
	if requested != trademode.Live {
		return nil
	}
	if !s.Connected || s.Provider == "" {
		return &RejectedError{Requested: requested, Reason: "no connected broker"}
	}
	return nil
}

func (g *Guard) RequiresConfirmation(requested trademode.Mode) bool {
	return requested == trademode.Live
}

// Check is the trademode gate: reachability first, then the confirmation
// requirement. An unconfirmed live request never changes anything.
func (g *Guard) Check(requested trademode.Mode, confirmed bool) error {
	if err := g.CanEnter(requested, g.session.Get()); err != nil {
		return err
	}
	if g.RequiresConfirmation(requested) && !confirmed {
		return ErrConfirmationRequired
	}
	return nil
}
