package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/lawnchairsociety/questengine/internal/config"
)

func TestConnLimiter_PerIPLimit(t *testing.T) {
	limiter := NewConnLimiter(config.ConnectionsConfig{MaxPerIP: 2, MaxTotal: 100})

	if err := limiter.Acquire("192.168.1.1", "p1"); err != nil {
		t.Fatalf("first connection should be allowed: %v", err)
	}
	if err := limiter.Acquire("192.168.1.1", "p2"); err != nil {
		t.Fatalf("second connection should be allowed: %v", err)
	}
	if err := limiter.Acquire("192.168.1.1", "p3"); !errors.Is(err, ErrTooManyFromIP) {
		t.Errorf("third connection from same IP should be rejected, got %v", err)
	}
	if err := limiter.Acquire("192.168.1.2", "p3"); err != nil {
		t.Errorf("connection from different IP should be allowed: %v", err)
	}

	limiter.Release("192.168.1.1", "p1")
	if err := limiter.Acquire("192.168.1.1", "p1"); err != nil {
		t.Errorf("connection should be allowed after release: %v", err)
	}
}

func TestConnLimiter_PerPlayerLimit(t *testing.T) {
	limiter := NewConnLimiter(config.ConnectionsConfig{MaxPerPlayer: 1})

	if err := limiter.Acquire("10.0.0.1", "p1"); err != nil {
		t.Fatalf("first socket should be allowed: %v", err)
	}
	if err := limiter.Acquire("10.0.0.2", "p1"); !errors.Is(err, ErrTooManySockets) {
		t.Errorf("second socket for the same player should be rejected, got %v", err)
	}
	if got := limiter.PlayerCount("p1"); got != 1 {
		t.Errorf("PlayerCount = %d, want 1", got)
	}
}

func TestConnLimiter_TotalLimit(t *testing.T) {
	limiter := NewConnLimiter(config.ConnectionsConfig{MaxPerIP: 10, MaxTotal: 3})

	for i, p := range []string{"a", "b", "c"} {
		if err := limiter.Acquire("192.168.1.1", p); err != nil {
			t.Fatalf("connection %d should be allowed: %v", i, err)
		}
	}
	if err := limiter.Acquire("192.168.1.9", "d"); !errors.Is(err, ErrTooManyTotal) {
		t.Errorf("fourth connection should hit total limit, got %v", err)
	}
}

func TestConnLimiter_Unlimited(t *testing.T) {
	limiter := NewConnLimiter(config.ConnectionsConfig{})

	for i := 0; i < 1000; i++ {
		if err := limiter.Acquire("192.168.1.1", "p1"); err != nil {
			t.Fatalf("connection %d should be allowed with no limits: %v", i, err)
		}
	}
}

func TestConnLimiter_Stats(t *testing.T) {
	limiter := NewConnLimiter(config.ConnectionsConfig{})

	limiter.Acquire("192.168.1.1", "p1")
	limiter.Acquire("192.168.1.1", "p2")
	limiter.Acquire("192.168.1.2", "p2")

	got := limiter.Stats()
	want := ConnStats{Total: 3, IPs: 2, Players: 2}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}

	limiter.Release("192.168.1.2", "p2")
	limiter.Release("192.168.1.2", "p2") // double release must not go negative
	limiter.Release("192.168.1.1", "p1")
	limiter.Release("192.168.1.1", "p2")
	limiter.Release("192.168.1.1", "p2")

	if got := limiter.Stats(); got != (ConnStats{}) {
		t.Errorf("after releasing everything Stats() = %+v", got)
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"192.168.1.1:12345", "192.168.1.1"},
		{"[::1]:12345", "::1"},
		{"localhost:4000", "localhost"},
		{"192.168.1.1", "192.168.1.1"},
	}

	for _, tt := range tests {
		if result := extractIP(tt.input); result != tt.expected {
			t.Errorf("extractIP(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		expected   string
	}{
		{
			name:       "X-Forwarded-For single IP",
			xff:        "203.0.113.50",
			remoteAddr: "10.0.0.1:12345",
			expected:   "203.0.113.50",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			xff:        "203.0.113.50, 70.41.3.18, 150.172.238.178",
			remoteAddr: "10.0.0.1:12345",
			expected:   "203.0.113.50",
		},
		{
			name:       "X-Real-IP",
			xri:        "203.0.113.50",
			remoteAddr: "10.0.0.1:12345",
			expected:   "203.0.113.50",
		},
		{
			name:       "X-Forwarded-For takes precedence over X-Real-IP",
			xff:        "203.0.113.50",
			xri:        "198.51.100.25",
			remoteAddr: "10.0.0.1:12345",
			expected:   "203.0.113.50",
		},
		{
			name:       "No headers",
			remoteAddr: "192.168.1.100:54321",
			expected:   "192.168.1.100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			if result := getRealIP(req); result != tt.expected {
				t.Errorf("getRealIP() = %q, want %q", result, tt.expected)
			}
		})
	}
}
