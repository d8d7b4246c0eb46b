package server

import (
	"sync"
	"time"

	"github.com/lawnchairsociety/questengine/internal/config"
)

// AuthLimiter tracks failed gateway authentications per client IP and
// locks an address out after too many. Repeated lockouts double in length
// up to the configured maximum.
type AuthLimiter struct {
	mu          sync.Mutex
	failures    map[string]*failureInfo
	maxFailures int
	lockout     time.Duration
	maxLockout  time.Duration
	now         func() time.Time
}

type failureInfo struct {
	count       int
	lockedUntil time.Time
	lockouts    int
}

// NewAuthLimiter creates a limiter from cfg, filling unset values with
// defaults.
func NewAuthLimiter(cfg config.RateLimitConfig) *AuthLimiter {
	l := &AuthLimiter{
		failures:    make(map[string]*failureInfo),
		maxFailures: cfg.MaxFailures,
		lockout:     cfg.Lockout,
		maxLockout:  cfg.MaxLockout,
		now:         time.Now,
	}
	if l.maxFailures <= 0 {
		l.maxFailures = 5
	}
	if l.lockout <= 0 {
		l.lockout = 30 * time.Second
	}
	if l.maxLockout < l.lockout {
		l.maxLockout = l.lockout
	}
	return l
}

// Locked reports whether ip is locked out and for how much longer.
func (l *AuthLimiter) Locked(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.failures[ip]
	if !ok {
		return false, 0
	}
	if now := l.now(); now.Before(info.lockedUntil) {
		return true, info.lockedUntil.Sub(now)
	}
	return false, 0
}

// Fail records a failed authentication. It reports whether ip is now
// locked out and for how long.
func (l *AuthLimiter) Fail(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.failures[ip]
	if !ok {
		info = &failureInfo{}
		l.failures[ip] = info
	}

	now := l.now()
	if now.Before(info.lockedUntil) {
		return true, info.lockedUntil.Sub(now)
	}

	info.count++
	if info.count < l.maxFailures {
		return false, 0
	}

	info.lockouts++
	d := l.lockout
	for i := 1; i < info.lockouts && d < l.maxLockout; i++ {
		d *= 2
	}
	if d > l.maxLockout {
		d = l.maxLockout
	}
	info.lockedUntil = now.Add(d)
	info.count = 0
	return true, d
}

// Succeed clears the failure history of ip.
func (l *AuthLimiter) Succeed(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}

// Failures returns the failures recorded for ip since its last lockout.
func (l *AuthLimiter) Failures(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.failures[ip]; ok {
		return info.count
	}
	return 0
}

// Prune drops addresses whose lockout ended more than idle ago and which
// have no failures since.
func (l *AuthLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	pruned := 0
	for ip, info := range l.failures {
		if info.count == 0 && info.lockedUntil.Before(cutoff) {
			delete(l.failures, ip)
			pruned++
		}
	}
	return pruned
}
