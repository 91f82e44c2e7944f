package guard

import (
	"testing"
	"testing/quick"

	"github.com/pkg/errors"

	"github.com/deskbot/godesk/internal/session"
	"github.com/deskbot/godesk/internal/trademode"
)

func connectedSession() *session.Session {
	s := session.New()
	s.Set(session.State{
		Provider:    "alpaca",
		Connected:   true,
		AccountID:   "PA123",
		AccountKind: session.AccountPaper,
	})
	return s
}

func TestLiveRejectedWithoutBroker(t *testing.T) {
	g := New(session.New())

	err := g.Check(trademode.Live, true)
	if err == nil {
		t.Fatal("live check passed with no broker")
	}
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("error %T is not *RejectedError", err)
	}
	if rej.Requested != trademode.Live {
		t.Errorf("requested = %s", rej.Requested)
	}
}

func TestLiveNeedsConfirmation(t *testing.T) {
	g := New(connectedSession())

	if err := g.Check(trademode.Live, false); !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("unconfirmed live: err = %v, want ErrConfirmationRequired", err)
	}
	if err := g.Check(trademode.Live, true); err != nil {
		t.Errorf("confirmed live with broker: %v", err)
	}
}

func TestRejectionComesBeforeConfirmation(t *testing.T) {
	// With no broker, even an unconfirmed request gets the rejection, not
	// the confirmation error: no prompt is ever shown for an unreachable
	// mode.
	g := New(session.New())
	err := g.Check(trademode.Live, false)
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Errorf("err = %v, want *RejectedError", err)
	}
}

func TestDemoAndPaperAlwaysPass(t *testing.T) {
	sessions := []*session.Session{session.New(), connectedSession()}
	prop := func(useConnected, confirmed, paper bool) bool {
		g := New(sessions[boolToInt(useConnected)])
		mode := trademode.Demo
		if paper {
			mode = trademode.Paper
		}
		return g.Check(mode, confirmed) == nil
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestRequiresConfirmation(t *testing.T) {
	g := New(session.New())
	if g.RequiresConfirmation(trademode.Demo) || g.RequiresConfirmation(trademode.Paper) {
		t.Error("demo/paper should not require confirmation")
	}
	if !g.RequiresConfirmation(trademode.Live) {
		t.Error("live must require confirmation")
	}
}

func TestCanEnterEmptyProvider(t *testing.T) {
	g := New(session.New())
	err := g.CanEnter(trademode.Live, session.State{Connected: true})
	if err == nil {
		t.Error("live allowed with empty provider")
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
