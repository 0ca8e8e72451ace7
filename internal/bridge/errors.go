package bridge

import "errors"

// Domain errors for the bridge. They never escape the public API; they are
// carried in peripheral-error notifications and logs.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is reported when a connection attempt fails.
	ErrConnectionFailed = errors.New("bridge: connection failed")

	// ErrConnectionLost is reported when an established connection drops.
	ErrConnectionLost = errors.New("bridge: connection lost")

	// ErrUnknownPeripheral is reported when a peripheral ID is not configured.
	ErrUnknownPeripheral = errors.New("bridge: unknown peripheral")

	// ErrSubscribeFailed is logged when the broker rejects a subscription.
	ErrSubscribeFailed = errors.New("bridge: subscribe failed")

	// ErrDialerRequired is returned by New when no transport dialer is given.
	ErrDialerRequired = errors.New("bridge: dialer is required")
)
