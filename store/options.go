package store

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Default values
const (
	DefaultTimeout   = 3 * time.Second
	DefaultScanCount = 256
)

// Options holds configuration shared by the store implementations.
type Options struct {
	// Timeout bounds every primitive (default: 3s).
	Timeout time.Duration
	// ScanCount is the COUNT hint used while scanning keys in DeleteByPattern (default: 256).
	ScanCount int64
	// Clock returns the current time; only the memory store uses it, for expiry.
	Clock func() time.Time
}

// Option defines a function type for setting options.
type Option func(*Options)

func newOptions(opts ...Option) *Options {
	options := &Options{
		Timeout:   DefaultTimeout,
		ScanCount: DefaultScanCount,
		Clock:     time.Now,
	}
	for _, o := range opts {
		o(options)
	}
	return options
}

// WithTimeout sets the per-primitive timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.Timeout = timeout
		} else {
			log.Warn().Dur("invalid_timeout", timeout).Msg("ignoring non-positive store timeout option")
		}
	}
}

// WithScanCount sets the SCAN COUNT hint.
func WithScanCount(count int64) Option {
	return func(o *Options) {
		if count > 0 {
			o.ScanCount = count
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}
