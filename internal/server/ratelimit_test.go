package server

import (
	"testing"
	"time"

	"github.com/lawnchairsociety/questengine/internal/config"
)

// newTestAuthLimiter returns a limiter on a clock the test advances.
func newTestAuthLimiter(cfg config.RateLimitConfig) (*AuthLimiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewAuthLimiter(cfg)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAuthLimiter_Basic(t *testing.T) {
	l, _ := newTestAuthLimiter(config.RateLimitConfig{MaxFailures: 3, Lockout: time.Second, MaxLockout: 10 * time.Second})
	ip := "192.168.1.1"

	if locked, _ := l.Fail(ip); locked {
		t.Error("first failure should not trigger lockout")
	}
	if locked, _ := l.Fail(ip); locked {
		t.Error("second failure should not trigger lockout")
	}
	locked, d := l.Fail(ip)
	if !locked || d != time.Second {
		t.Errorf("third failure should lock for 1s, got %v %v", locked, d)
	}

	if locked, remaining := l.Locked(ip); !locked || remaining != time.Second {
		t.Errorf("IP should be locked for 1s, got %v %v", locked, remaining)
	}
}

func TestAuthLimiter_SuccessClears(t *testing.T) {
	l, _ := newTestAuthLimiter(config.RateLimitConfig{MaxFailures: 3})
	ip := "192.168.1.1"

	l.Fail(ip)
	l.Fail(ip)
	l.Succeed(ip)

	if got := l.Failures(ip); got != 0 {
		t.Errorf("failures after success = %d, want 0", got)
	}
	if locked, _ := l.Fail(ip); locked {
		t.Error("first failure after success should not trigger lockout")
	}
}

func TestAuthLimiter_ExponentialBackoff(t *testing.T) {
	l, now := newTestAuthLimiter(config.RateLimitConfig{MaxFailures: 1, Lockout: time.Second, MaxLockout: 10 * time.Second})
	ip := "192.168.1.1"

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second} {
		_, d := l.Fail(ip)
		if d != want {
			t.Errorf("lockout %d = %v, want %v", i+1, d, want)
		}
		*now = now.Add(d + time.Millisecond)
	}
}

func TestAuthLimiter_FailWhileLockedDoesNotExtend(t *testing.T) {
	l, now := newTestAuthLimiter(config.RateLimitConfig{MaxFailures: 1, Lockout: 10 * time.Second})
	ip := "192.168.1.1"

	l.Fail(ip)
	*now = now.Add(4 * time.Second)

	locked, remaining := l.Fail(ip)
	if !locked || remaining != 6*time.Second {
		t.Errorf("expected remaining 6s of the original lockout, got %v %v", locked, remaining)
	}

	*now = now.Add(6 * time.Second)
	if locked, _ := l.Locked(ip); locked {
		t.Error("lockout should have expired")
	}
}

func TestAuthLimiter_MultipleIPs(t *testing.T) {
	l, _ := newTestAuthLimiter(config.RateLimitConfig{MaxFailures: 2, Lockout: time.Second})

	l.Fail("192.168.1.1")
	l.Fail("192.168.1.1")

	if locked, _ := l.Locked("192.168.1.1"); !locked {
		t.Error("first IP should be locked")
	}
	if locked, _ := l.Locked("192.168.1.2"); locked {
		t.Error("second IP should not be locked")
	}
	if locked, _ := l.Fail("192.168.1.2"); locked {
		t.Error("first failure for second IP should not trigger lockout")
	}
}

func TestAuthLimiter_Defaults(t *testing.T) {
	l := NewAuthLimiter(config.RateLimitConfig{})
	if l.maxFailures != 5 || l.lockout != 30*time.Second || l.maxLockout != 30*time.Second {
		t.Errorf("unexpected defaults: %d %v %v", l.maxFailures, l.lockout, l.maxLockout)
	}
}

func TestAuthLimiter_Prune(t *testing.T) {
	l, now := newTestAuthLimiter(config.RateLimitConfig{MaxFailures: 1, Lockout: time.Second})

	l.Fail("192.168.1.1") // locked
	*now = now.Add(time.Hour)
	l.Fail("192.168.1.2") // locked again, recent

	if pruned := l.Prune(10 * time.Minute); pruned != 1 {
		t.Errorf("Prune() = %d, want 1", pruned)
	}
	if locked, _ := l.Locked("192.168.1.2"); !locked {
		t.Error("recent lockout must survive pruning")
	}
}
