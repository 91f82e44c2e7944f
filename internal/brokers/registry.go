// Package brokers is the static catalog of supported brokerages: which
// auth flow each one uses, which form fields it needs, and its paper-money
// constants. The catalog is immutable after construction.
package brokers

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind selects one of the four structurally different auth flows.
type Kind string

const (
	// KindTWS connects to a locally running IBKR workstation by socket.
	KindTWS Kind = "tws"
	// KindCredentials is a username/password login, optionally with 2FA.
	KindCredentials Kind = "credentials"
	// KindApiKey authenticates with static keys.
	KindApiKey Kind = "api_key"
	// KindOAuth is a delegated browser login with a local callback.
	KindOAuth Kind = "oauth"
)

type Descriptor struct {
	ID             string
	Name           string
	Kind           Kind
	RequiredFields []string
	OptionalFields []string
	// SecretFields are wiped from the form after every attempt, success
	// or not.
	SecretFields []string
	// PaperCash is the simulated balance assigned client-side when the
	// backend reports a paper session without one.
	PaperCash decimal.Decimal
	// Defaults prefill the connect form. Never validated; the port is not
	// cross-checked against the paper flag.
	Defaults map[string]string
}

// Validate reports every required field that is absent or blank, in the
// descriptor's field order.
func (d Descriptor) Validate(form map[string]string) error {
	var missing []string
	for _, f := range d.RequiredFields {
		if strings.TrimSpace(form[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Broker: d.ID, Missing: missing}
	}
	return nil
}

type Registry struct {
	order []string
	byID  map[string]Descriptor
}

func New() *Registry {
	r := &Registry{byID: make(map[string]Descriptor)}
	for _, d := range catalog() {
		r.order = append(r.order, d.ID)
		r.byID[d.ID] = d
	}
	return r
}

// Resolve looks a broker up by id, case-insensitively.
func (r *Registry) Resolve(id string) (Descriptor, error) {
	d, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return Descriptor{}, &UnknownBrokerError{ID: id}
	}
	return d, nil
}

// IDs returns the catalog ids in their stable display order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func catalog() []Descriptor {
	million := decimal.NewFromInt(1_000_000)
	hundredK := decimal.NewFromInt(100_000)

	return []Descriptor{
		{
			ID:             "ibkr",
			Name:           "Interactive Brokers",
			Kind:           KindTWS,
			RequiredFields: []string{"host", "port", "client_id"},
			OptionalFields: []string{"account_id"},
			PaperCash:      million,
			// 7497 is the workstation's paper port; live installs listen
			// on 7496.
			Defaults: map[string]string{
				"host":      "127.0.0.1",
				"port":      "7497",
				"client_id": "1",
			},
		},
		{
			ID:             "alpaca",
			Name:           "Alpaca",
			Kind:           KindApiKey,
			RequiredFields: []string{"api_key", "secret_key"},
			SecretFields:   []string{"secret_key"},
			PaperCash:      hundredK,
		},
		{
			ID:        "schwab",
			Name:      "Charles Schwab",
			Kind:      KindOAuth,
			PaperCash: hundredK,
		},
		{
			ID:             "tradier",
			Name:           "Tradier",
			Kind:           KindApiKey,
			RequiredFields: []string{"access_token"},
			SecretFields:   []string{"access_token"},
			PaperCash:      hundredK,
		},
		{
			ID:             "robinhood",
			Name:           "Robinhood",
			Kind:           KindCredentials,
			RequiredFields: []string{"username", "password"},
			OptionalFields: []string{"mfa_code"},
			SecretFields:   []string{"password", "mfa_code"},
			PaperCash:      hundredK,
		},
		{
			ID:             "webull",
			Name:           "Webull",
			Kind:           KindCredentials,
			RequiredFields: []string{"username", "password"},
			OptionalFields: []string{"trade_pin"},
			SecretFields:   []string{"password", "trade_pin"},
			PaperCash:      million,
		},
	}
}
