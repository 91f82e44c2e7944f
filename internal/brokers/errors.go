package brokers

import (
	"fmt"
	"strings"
)

// UnknownBrokerError reports an id outside the catalog. The id is echoed
// as typed, not lowercased.
type UnknownBrokerError struct {
	ID string
}

func (e *UnknownBrokerError) Error() string {
	return fmt.Sprintf("unknown broker %q", e.ID)
}

// ValidationError lists every required field that is absent or blank. It is
// returned before anything touches the network.
type ValidationError struct {
	Broker  string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("broker %s: missing required fields: %s", e.Broker, strings.Join(e.Missing, ", "))
}
