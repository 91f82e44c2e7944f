package stream

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// envelope is the wire frame for every /ws message, client and server side.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

const (
	typeSubscribe     = "subscribe"
	typeSubscribed    = "subscribed"
	typeAccountUpdate = "account_update"

	// ChannelAccount carries balance pushes for the connected broker.
	ChannelAccount = "account"
)

// AccountUpdate is a pushed balance refresh. Nil fields were not included
// in the push and must not overwrite known values.
type AccountUpdate struct {
	Broker         string           `json:"broker"`
	AccountID      string           `json:"account_id,omitempty"`
	BuyingPower    *decimal.Decimal `json:"buying_power,omitempty"`
	PortfolioValue *decimal.Decimal `json:"portfolio_value,omitempty"`
}
