package auth

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/deskbot/godesk/internal/brokers"
	"github.com/deskbot/godesk/internal/guard"
	"github.com/deskbot/godesk/internal/oauth"
	"github.com/deskbot/godesk/pkg/sdk/backend"
)

// Kind buckets connect and mode errors for the dashboard's one-line
// message. Callers needing exact errors still use errors.Is/As.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindUnknownBroker Kind = "unknown_broker"
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindGuardRejected Kind = "guard_rejected"
	KindCanceled      Kind = "canceled"
	KindUnknown       Kind = "unknown"
)

func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var (
		ve *brokers.ValidationError
		fe *FieldError
		ub *brokers.UnknownBrokerError
		re *guard.RejectedError
		ae *backend.APIError
		ne net.Error
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &fe):
		return KindValidation
	case errors.As(err, &ub):
		return KindUnknownBroker
	case errors.Is(err, oauth.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, oauth.ErrSuperseded), errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &re), errors.Is(err, guard.ErrConfirmationRequired):
		return KindGuardRejected
	case errors.As(err, &ae):
		return KindNetwork
	case errors.As(err, &ne):
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}
