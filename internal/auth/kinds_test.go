package auth

import (
	"context"
	"net/url"
	"testing"

	"github.com/pkg/errors"

	"github.com/deskbot/godesk/internal/brokers"
	"github.com/deskbot/godesk/internal/guard"
	"github.com/deskbot/godesk/internal/oauth"
	"github.com/deskbot/godesk/internal/trademode"
	"github.com/deskbot/godesk/pkg/sdk/backend"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", &brokers.ValidationError{Broker: "alpaca", Missing: []string{"api_key"}}, KindValidation},
		{"field", &FieldError{Broker: "ibkr", Field: "client_id", Reason: "must be a number"}, KindValidation},
		{"unknown broker", &brokers.UnknownBrokerError{ID: "etrade"}, KindUnknownBroker},
		{"oauth timeout", oauth.ErrTimeout, KindTimeout},
		{"wrapped oauth timeout", errors.Wrap(oauth.ErrTimeout, "connect"), KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", &url.Error{Op: "Get", URL: "http://x", Err: fakeTimeoutErr{}}, KindTimeout},
		{"superseded", oauth.ErrSuperseded, KindCanceled},
		{"context canceled", context.Canceled, KindCanceled},
		{"guard rejected", &guard.RejectedError{Requested: trademode.Live, Reason: "no connected broker"}, KindGuardRejected},
		{"confirmation required", guard.ErrConfirmationRequired, KindGuardRejected},
		{"api error", &backend.APIError{StatusCode: 500, Status: "500"}, KindNetwork},
		{"wrapped api error", errors.Wrap(&backend.APIError{StatusCode: 502, Status: "502"}, "refresh"), KindNetwork},
		{"plain", errors.New("weird"), KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("%s: KindOf = %s, want %s", tc.name, got, tc.want)
		}
	}
}
