// Package ratelimit implements fixed-window request limiting with block
// escalation. Counters live in process memory: limits here are a per-instance
// abuse brake, not a cluster-wide quota.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// retention is how long an idle counter survives before Sweep removes it.
const retention = 15 * time.Minute

// Result reports the outcome of a limit check. Limit, Remaining and ResetAt
// are populated on every call so callers can emit rate headers on allowed
// responses too.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is zero unless the request was denied.
	RetryAfter time.Duration
}

type window struct {
	count        int
	start        time.Time
	blockedUntil time.Time
	profile      Profile
}

// Limiter tracks fixed windows per key. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	log     zerolog.Logger
}

func New(logger zerolog.Logger) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
		log:     logger.With().Str("component", "ratelimit").Logger(),
	}
}

// BuildKey composes the tracking key for an endpoint-profile check. The
// scope is the profile name, not the request path: a caller reading many
// distinct records draws down one shared counter, and the window table stays
// bounded by the profile set. Anonymous requests collapse onto one bucket
// per address so pre-auth traffic cannot mint fresh counters by varying
// identity.
func BuildKey(ip, userID, scope string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return strings.Join([]string{ip, userID, scope}, ":")
}

// Check counts one request against key under the given profile.
func (l *Limiter) Check(p Profile, key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(p, key)
}

// CheckIP applies the per-address ceiling. It runs before any profile check
// so a flooding source is cut off regardless of which endpoints it hits.
func (l *Limiter) CheckIP(ip string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(ipCeiling, "ip:"+ip)
}

func (l *Limiter) check(p Profile, key string) Result {
	now := l.now()

	w, ok := l.windows[key]
	if !ok {
		w = &window{start: now, profile: p}
		l.windows[key] = w
	}

	if !w.blockedUntil.IsZero() {
		if now.Before(w.blockedUntil) {
			return Result{
				Limit:      p.MaxRequests,
				ResetAt:    w.blockedUntil,
				RetryAfter: w.blockedUntil.Sub(now),
			}
		}
		// Block expired, start fresh.
		w.blockedUntil = time.Time{}
		w.count = 0
		w.start = now
	}

	if now.Sub(w.start) >= p.Window {
		w.count = 0
		w.start = now
	}

	w.count++
	resetAt := w.start.Add(p.Window)

	if w.count > p.MaxRequests {
		if p.BlockFor > 0 {
			w.blockedUntil = now.Add(p.BlockFor)
			resetAt = w.blockedUntil
			l.log.Warn().
				Str("key", key).
				Str("profile", p.Name).
				Time("blocked_until", w.blockedUntil).
				Msg("rate limit exceeded, key blocked")
		}
		return Result{
			Limit:      p.MaxRequests,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	return Result{
		Allowed:   true,
		Limit:     p.MaxRequests,
		Remaining: p.MaxRequests - w.count,
		ResetAt:   resetAt,
	}
}

// IsBlocked reports whether key is currently under a block escalation.
func (l *Limiter) IsBlocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	return ok && l.now().Before(w.blockedUntil)
}

// Unblock lifts a block and clears the counter. Administrative override.
func (l *Limiter) Unblock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Status returns the current count and block state for key without consuming
// a request. ok is false when no counter exists.
func (l *Limiter) Status(key string) (count int, blockedUntil time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, found := l.windows[key]
	if !found {
		return 0, time.Time{}, false
	}
	return w.count, w.blockedUntil, true
}

// Sweep drops counters whose window and block have both lapsed past the
// retention horizon. Run it periodically; growth between sweeps is bounded by
// request cardinality.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Before(w.blockedUntil) {
			continue
		}
		if now.Sub(w.start) > retention {
			delete(l.windows, key)
			removed++
		}
	}
	if removed > 0 {
		l.log.Debug().Int("removed", removed).Msg("swept stale rate counters")
	}
	return removed
}
