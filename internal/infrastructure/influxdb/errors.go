package influxdb

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck when the client never
	// connected or has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps ping failures during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when the integration is switched
	// off in configuration. Callers treat it as "skip", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
