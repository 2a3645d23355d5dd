package monitor

import (
	"log/slog"
	"time"
)

const (
	defaultInterval        = 5 * time.Second
	defaultAttemptDeadline = 10 * time.Minute
	defaultHandshake       = 30 * time.Second
	defaultCallTimeout     = 60 * time.Second
	defaultStopTimeout     = 10 * time.Second
	defaultMaxAttempts     = 5
	defaultBackoffBase     = 2 * time.Second
	defaultBackoffCap      = 5 * time.Minute
)

type monitorOptions struct {
	interval         time.Duration
	attemptDeadline  time.Duration
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	stopTimeout      time.Duration
	maxAttempts      int
	backoffBase      time.Duration
	backoffCap       time.Duration
	dial             Dialer
	log              *slog.Logger
}

// Option configures a Monitor.
type Option func(*monitorOptions)

// WithInterval sets the tick period. Defaults to 5s.
func WithInterval(d time.Duration) Option {
	return func(o *monitorOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithAttemptDeadline bounds one full acquisition attempt, install
// included. Defaults to 10m.
func WithAttemptDeadline(d time.Duration) Option {
	return func(o *monitorOptions) {
		if d > 0 {
			o.attemptDeadline = d
		}
	}
}

// WithHandshakeTimeout bounds the protocol handshake. Defaults to 30s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *monitorOptions) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithCallTimeout sets the default per-invocation timeout on plugin
// sessions. Defaults to 60s.
func WithCallTimeout(d time.Duration) Option {
	return func(o *monitorOptions) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithMaxAttempts sets how many failed attempts park a capability until the
// next gap re-injection. Defaults to 5.
func WithMaxAttempts(n int) Option {
	return func(o *monitorOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the exponential retry delay: base doubled per failure,
// capped at ceil. Defaults to 2s capped at 5m.
func WithBackoff(base, ceil time.Duration) Option {
	return func(o *monitorOptions) {
		if base > 0 {
			o.backoffBase = base
		}
		if ceil > 0 {
			o.backoffCap = ceil
		}
	}
}

// WithDialer replaces the RPC session dialer. Used by tests.
func WithDialer(d Dialer) Option {
	return func(o *monitorOptions) { o.dial = d }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *monitorOptions) {
		if log != nil {
			o.log = log
		}
	}
}

func resolveOptions(opts ...Option) monitorOptions {
	o := monitorOptions{
		interval:         defaultInterval,
		attemptDeadline:  defaultAttemptDeadline,
		handshakeTimeout: defaultHandshake,
		callTimeout:      defaultCallTimeout,
		stopTimeout:      defaultStopTimeout,
		maxAttempts:      defaultMaxAttempts,
		backoffBase:      defaultBackoffBase,
		backoffCap:       defaultBackoffCap,
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
