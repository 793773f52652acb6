package gateway

import "errors"

// Error kinds callers branch on with errors.Is. Each failure mode of a
// gateway call wraps exactly one of these.
var (
	// ErrConfig marks an account configuration problem (bad base URL).
	// Never retried automatically.
	ErrConfig = errors.New("gateway: invalid configuration")

	// ErrTransport marks a network or HTTP-level failure.
	ErrTransport = errors.New("gateway: transport failure")

	// ErrUnrecognizedResponse marks a 2xx reply whose body this system
	// cannot interpret (non-JSON, or missing the expected fields).
	ErrUnrecognizedResponse = errors.New("gateway: unrecognized response")
)
