package client

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every NetworkError via errors.Is
var ErrNetwork = errors.New("client: network failure")

// NetworkError reports a failed request: transport errors, timeouts and
// non-2xx responses. StatusCode is zero when no response was received.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s returned status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNetwork) match any NetworkError
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// IsNetwork reports whether err is a network failure
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
