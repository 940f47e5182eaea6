package txengine

import (
	"log/slog"
	"os"
	"time"

	"txengine/internal/clock"
)

type config struct {
	horizonMaxLen int
	horizonMaxAge clock.LogicTime

	bufferOverflowLen     int
	bufferOverflowTimeout time.Duration

	logger *slog.Logger
}

func defaultConfig() config {
	return config{
		horizonMaxLen:         0,
		horizonMaxAge:         0,
		bufferOverflowLen:     64,
		bufferOverflowTimeout: 200 * time.Millisecond,
		logger:                slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

// Option configures an Engine at construction time.
type Option func(*config)

// WithHorizonLimits bounds the horizon's live-transaction count and age, in
// logical-time units. A zero value leaves that limit unenforced.
func WithHorizonLimits(maxLen int, maxAge clock.LogicTime) Option {
	return func(c *config) {
		c.horizonMaxLen = maxLen
		c.horizonMaxAge = maxAge
	}
}

// WithBufferPolicy sets the commit buffer's size-or-timeout release
// triggers.
func WithBufferPolicy(overflowLen int, overflowTimeout time.Duration) Option {
	return func(c *config) {
		c.bufferOverflowLen = overflowLen
		c.bufferOverflowTimeout = overflowTimeout
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
