package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/metrics"
)

// AuthAttemptLimiter locks out a client after repeated failed credential
// checks. Only failures count: a valid key that ran out of quota does not.
//
// Failures are kept per client as timestamps in a sliding window, so a burst
// straddling a window boundary still trips the lockout.
type AuthAttemptLimiter struct {
	mu            sync.Mutex
	clients       map[string]*failureLog
	maxFailures   int
	window        time.Duration
	blockDuration time.Duration
	nextSweep     time.Time
	sweepEvery    time.Duration
	now           func() time.Time
}

type failureLog struct {
	failures     []time.Time // oldest first, all within window
	blockedUntil time.Time
}

func NewAuthAttemptLimiter(maxFailures int, window, blockDuration time.Duration) *AuthAttemptLimiter {
	if maxFailures <= 0 {
		maxFailures = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if blockDuration <= 0 {
		blockDuration = 15 * time.Minute
	}

	return &AuthAttemptLimiter{
		clients:       make(map[string]*failureLog),
		maxFailures:   maxFailures,
		window:        window,
		blockDuration: blockDuration,
		nextSweep:     time.Now().Add(5 * time.Minute),
		sweepEvery:    5 * time.Minute,
		now:           time.Now,
	}
}

// allow reports whether key may attempt authentication, and if not, how long
// it stays blocked.
func (l *AuthAttemptLimiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	fl, ok := l.clients[key]
	if !ok || !now.Before(fl.blockedUntil) {
		return true, 0
	}
	return false, fl.blockedUntil.Sub(now)
}

func (l *AuthAttemptLimiter) registerFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	fl, ok := l.clients[key]
	if !ok {
		fl = &failureLog{}
		l.clients[key] = fl
	}

	fl.failures = append(l.prune(fl.failures, now), now)
	if len(fl.failures) < l.maxFailures {
		return
	}

	fl.blockedUntil = now.Add(l.blockDuration)
	fl.failures = fl.failures[:0]
	metrics.AuthLockouts.Inc()
	log.Warn().Str("client", key).Dur("blocked_for", l.blockDuration).Msg("too many failed authentication attempts")
}

func (l *AuthAttemptLimiter) registerSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, key)
}

// prune drops failures that fell out of the window ending at now.
func (l *AuthAttemptLimiter) prune(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(failures) && !failures[i].After(cutoff) {
		i++
	}
	return failures[i:]
}

// sweepLocked forgets clients with no recent failures and no active block.
func (l *AuthAttemptLimiter) sweepLocked(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, fl := range l.clients {
		fl.failures = l.prune(fl.failures, now)
		if len(fl.failures) == 0 && !now.Before(fl.blockedUntil) {
			delete(l.clients, key)
		}
	}
	l.nextSweep = now.Add(l.sweepEvery)
}

// clientIPKey keys attempts by client address. Behind a proxy it relies on
// chi's RealIP having rewritten RemoteAddr.
func clientIPKey(r *http.Request, realm string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return realm + ":" + host
}
