// Package throttle limits how fast a single connection may send requests.
package throttle

import (
	"sync"
	"time"

	"github.com/lawnchairsociety/questengine/internal/config"
)

// Config holds throttle configuration
type Config struct {
	Enabled     bool          // Whether throttling is enabled
	MaxRequests int           // Max requests allowed in the time window
	Window      time.Duration // Sliding time window
}

// DefaultConfig returns sensible defaults for throttling
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MaxRequests: 30,
		Window:      5 * time.Second,
	}
}

// FromConfig creates a Config from the service configuration, keeping the
// defaults for unset values.
func FromConfig(c config.ThrottleConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.MaxRequests > 0 {
		cfg.MaxRequests = c.MaxRequests
	}
	if c.Window > 0 {
		cfg.Window = c.Window
	}
	return cfg
}

// Tracker tracks request activity for a single connection
type Tracker struct {
	mu       sync.Mutex
	config   Config
	requests []time.Time // Timestamps of recent requests, oldest first
	now      func() time.Time
}

// NewTracker creates a new tracker with the given config
func NewTracker(config Config) *Tracker {
	return &Tracker{
		config:   config,
		requests: make([]time.Time, 0, config.MaxRequests),
		now:      time.Now,
	}
}

// Allow records a request and reports whether it is within the limit. When
// it is not, the returned duration is how long until a slot frees up.
// Refused requests are not recorded.
func (t *Tracker) Allow() (bool, time.Duration) {
	if !t.config.Enabled {
		return true, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.cleanup(now)

	if len(t.requests) >= t.config.MaxRequests {
		return false, t.requests[0].Add(t.config.Window).Sub(now)
	}
	t.requests = append(t.requests, now)
	return true, 0
}

// cleanup drops requests that fell out of the window
func (t *Tracker) cleanup(now time.Time) {
	cutoff := now.Add(-t.config.Window)
	kept := t.requests[:0]
	for _, at := range t.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.requests = kept
}

// Reset clears all tracking data
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = t.requests[:0]
}
