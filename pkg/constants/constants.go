// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Call lifecycle constants
const (
	// RingingWindow is how long an incoming invitation rings before it
	// auto-transitions to missed
	RingingWindow = 30 * time.Second

	// HistoryDefaultLimit is the default page size for call history queries
	HistoryDefaultLimit = 20

	// HistoryMaxLimit is the maximum page size for call history queries
	HistoryMaxLimit = 100
)

// Signaling transport constants
const (
	// ReconnectBaseDelay is the first reconnect delay after an unexpected disconnect
	ReconnectBaseDelay = 1 * time.Second

	// ReconnectMaxDelay caps the exponential reconnect backoff
	ReconnectMaxDelay = 30 * time.Second

	// DialTimeout bounds each individual connection attempt, distinct from
	// the overall retry policy which has no cap
	DialTimeout = 10 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WriteTimeout bounds a single WebSocket write
	WriteTimeout = 10 * time.Second
)

// Server constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute
)
