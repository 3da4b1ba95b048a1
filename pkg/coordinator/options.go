package coordinator

import "time"

const (
	DefaultPollInterval         = 30 * time.Second
	DefaultStaleThreshold       = 600 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultCommandDelay         = 1 * time.Second
	DefaultConnectTimeout       = 30 * time.Second
	DefaultReconnectSettle      = 500 * time.Millisecond
	DefaultShutdownTimeout      = 10 * time.Second
)

type Options struct {
	// PollInterval is how often the owner of the coordinator calls Poll.
	PollInterval time.Duration

	// StaleThreshold is the maximum age of the last successful snapshot that
	// may be served in place of a failed fetch.
	StaleThreshold time.Duration

	// MaxReconnectAttempts bounds the consecutive reconnects before polling
	// fails with ErrReconnectExhausted.
	MaxReconnectAttempts int

	// CommandDelay is the pause between the state and system check queries.
	CommandDelay time.Duration

	ConnectTimeout  time.Duration
	ReconnectSettle time.Duration
	ShutdownTimeout time.Duration
}

// withDefaults returns a copy where every zero value is replaced by its default.
func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = DefaultStaleThreshold
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.CommandDelay <= 0 {
		o.CommandDelay = DefaultCommandDelay
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReconnectSettle <= 0 {
		o.ReconnectSettle = DefaultReconnectSettle
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	return o
}
