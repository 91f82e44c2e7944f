// Package trademode holds the client's trading mode and its persistence.
// A persisted live mode always restores as paper.
package trademode

import "github.com/pkg/errors"

type Mode string

const (
	// Demo trades against the in-app simulator, no broker involved.
	Demo Mode = "demo"
	// Paper trades through a broker's simulated ledger.
	Paper Mode = "paper"
	// Live trades real money.
	Live Mode = "live"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Demo, Paper, Live:
		return Mode(s), nil
	}
	return "", errors.Errorf("unknown trading mode %q", s)
}

func (m Mode) Valid() bool {
	return m == Demo || m == Paper || m == Live
}

func (m Mode) String() string { return string(m) }
