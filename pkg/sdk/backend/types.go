package backend

import "github.com/shopspring/decimal"

// TWSConnectRequest connects to a locally running IBKR workstation.
// Port is passed through untouched; the workstation decides whether the
// port it listens on is the paper one.
type TWSConnectRequest struct {
	BrokerType string `json:"broker_type"`
	Host       string `json:"host"`
	Port       string `json:"port"`
	ClientID   int    `json:"client_id"`
	AccountID  string `json:"account_id,omitempty"`
	Paper      bool   `json:"paper"`
}

// LoginRequest authenticates with username/password brokers.
type LoginRequest struct {
	BrokerType    string `json:"broker_type"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
	Paper         bool   `json:"paper"`
}

// KeyAuthRequest authenticates with static API keys. Which fields are set
// depends on the broker (alpaca: api_key+secret_key, tradier: access_token).
type KeyAuthRequest struct {
	BrokerType  string `json:"broker_type"`
	APIKey      string `json:"api_key,omitempty"`
	SecretKey   string `json:"secret_key,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	Paper       bool   `json:"paper"`
}

// OAuthStartRequest asks the backend for the broker's login URL. RedirectURI
// is the local relay's callback address.
type OAuthStartRequest struct {
	BrokerType  string `json:"broker_type"`
	Paper       bool   `json:"paper"`
	RedirectURI string `json:"redirect_uri"`
}

type OAuthStartResult struct {
	AuthURL string `json:"auth_url"`
}

// OAuthExchangeRequest trades the authorization code for a session.
type OAuthExchangeRequest struct {
	BrokerType string `json:"broker_type"`
	Code       string `json:"code"`
	Paper      bool   `json:"paper"`
}

// ConnectResult is the shared shape of every successful connect-family
// response. Optional fields stay nil when the backend omits them.
type ConnectResult struct {
	Status         string           `json:"status"`
	Broker         string           `json:"broker"`
	AccountID      string           `json:"account_id"`
	AccountType    string           `json:"account_type,omitempty"`
	Simulated      *bool            `json:"simulated,omitempty"`
	BuyingPower    *decimal.Decimal `json:"buying_power,omitempty"`
	PortfolioValue *decimal.Decimal `json:"portfolio_value,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// BrokersStatus is the GET /api/integrations/brokers payload.
type BrokersStatus struct {
	Available []string               `json:"available"`
	Connected ConnectedBrokers       `json:"connected"`
	Sessions  map[string]SessionInfo `json:"sessions,omitempty"`
}

type ConnectedBrokers struct {
	ConnectedBrokers []string          `json:"connected_brokers"`
	BrokerStatus     map[string]string `json:"broker_status"`
	DefaultBroker    string            `json:"default_broker,omitempty"`
}

// SessionInfo describes one live backend session, keyed by broker id.
type SessionInfo struct {
	AccountID      string           `json:"account_id"`
	AccountType    string           `json:"account_type"`
	Simulated      bool             `json:"simulated"`
	BuyingPower    *decimal.Decimal `json:"buying_power,omitempty"`
	PortfolioValue *decimal.Decimal `json:"portfolio_value,omitempty"`
}

// Account is one row of GET /api/integrations/brokers/{broker}/accounts.
type Account struct {
	AccountID      string          `json:"account_id"`
	Type           string          `json:"type"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type disconnectResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}
