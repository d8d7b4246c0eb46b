package server

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/lawnchairsociety/questengine/internal/config"
)

// Reasons a connection slot was refused.
var (
	ErrTooManyTotal   = errors.New("server connection limit reached")
	ErrTooManyFromIP  = errors.New("too many connections from this address")
	ErrTooManySockets = errors.New("too many connections for this player")
)

// ConnStats is a snapshot of gateway connection counts.
type ConnStats struct {
	Total   int
	IPs     int
	Players int
}

// ConnLimiter caps concurrent gateway connections in total, per client IP
// and per player. A zero limit is unlimited.
type ConnLimiter struct {
	mu       sync.Mutex
	byIP     map[string]int
	byPlayer map[string]int
	total    int
	limits   config.ConnectionsConfig
}

// NewConnLimiter creates a limiter with the given limits.
func NewConnLimiter(cfg config.ConnectionsConfig) *ConnLimiter {
	return &ConnLimiter{
		byIP:     make(map[string]int),
		byPlayer: make(map[string]int),
		limits:   cfg,
	}
}

// Acquire takes a slot for a player connecting from ip. Every Acquire that
// returns nil must be paired with a Release.
func (c *ConnLimiter) Acquire(ip, playerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.limits.MaxTotal > 0 && c.total >= c.limits.MaxTotal:
		return ErrTooManyTotal
	case c.limits.MaxPerIP > 0 && c.byIP[ip] >= c.limits.MaxPerIP:
		return ErrTooManyFromIP
	case c.limits.MaxPerPlayer > 0 && c.byPlayer[playerID] >= c.limits.MaxPerPlayer:
		return ErrTooManySockets
	}

	c.byIP[ip]++
	c.byPlayer[playerID]++
	c.total++
	return nil
}

// Release gives back a slot taken by Acquire.
func (c *ConnLimiter) Release(ip, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	decrement(c.byIP, ip)
	decrement(c.byPlayer, playerID)
	if c.total > 0 {
		c.total--
	}
}

func decrement(counts map[string]int, key string) {
	if counts[key] <= 1 {
		delete(counts, key)
		return
	}
	counts[key]--
}

// Stats returns current connection counts.
func (c *ConnLimiter) Stats() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnStats{Total: c.total, IPs: len(c.byIP), Players: len(c.byPlayer)}
}

// PlayerCount returns the number of open connections for a player.
func (c *ConnLimiter) PlayerCount(playerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byPlayer[playerID]
}

// extractIP extracts the IP address from a remote address string (ip:port format).
// getRealIP returns the client address of an upgrade request. Proxy
// headers take precedence over the socket address.
func getRealIP(r *http.Request) string {
	// X-Forwarded-For is "client, proxy1, proxy2"; the first entry is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if clientIP := strings.TrimSpace(strings.Split(xff, ",")[0]); clientIP != "" {
			return clientIP
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return extractIP(r.RemoteAddr)
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
