// Package session holds the single broker connection state. At most one
// broker is connected at a time; disconnecting clears every field so stale
// account ids or balances cannot leak into the next connection.
package session

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// AccountKind tells whether the brokerage account itself is a paper or a
// real-money account. Distinct from the client's trading mode.
type AccountKind string

const (
	AccountPaper AccountKind = "paper"
	AccountLive  AccountKind = "live"
)

func ParseAccountKind(s string) (AccountKind, error) {
	switch AccountKind(s) {
	case AccountPaper, AccountLive:
		return AccountKind(s), nil
	}
	return "", errors.Errorf("unknown account kind %q", s)
}

type State struct {
	Provider    string
	Connected   bool
	AccountID   string
	AccountKind AccountKind

	// SimulatedCash is set when the broker runs its own paper ledger.
	// A live account never has it.
	SimulatedCash       bool
	SimulatedCashAmount decimal.Decimal

	BuyingPower    *decimal.Decimal
	PortfolioValue *decimal.Decimal
	LastSyncAt     *time.Time
}

// normalize enforces the state invariants on write: no identity without a
// connection, no simulated cash on a live account.
func (s State) normalize() State {
	if !s.Connected {
		s.Provider = ""
		s.AccountID = ""
		s.AccountKind = ""
	}
	if s.AccountKind == AccountLive {
		s.SimulatedCash = false
		s.SimulatedCashAmount = decimal.Zero
	}
	return s
}
