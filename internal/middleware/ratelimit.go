package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anfal/wificards/internal/auth"
)

// RateLimiterConfig holds the two per-client limits: a general one for
// the API surface and a tighter one for the auth endpoints, where
// hammering is either abuse or a credential-stuffing attempt.
type RateLimiterConfig struct {
	GeneralPerMinute int
	AuthPerMinute    int
	CleanupInterval  time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralPerMinute: 120,
		AuthPerMinute:    10,
		CleanupInterval:  5 * time.Minute,
	}
}

// clientLimiter pairs a token bucket with its last use, for cleanup.
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet is one tier's map of per-client buckets.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
}

func newLimiterSet(perMinute int) *limiterSet {
	return &limiterSet{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter.Allow()
}

func (s *limiterSet) cleanup(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cl := range s.limiters {
		if cl.lastAccess.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter enforces per-client request limits. Clients are keyed by
// user ID when signed in, by device cookie otherwise, falling back to
// the remote IP, so anonymous traffic is limited too.
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	authSet *limiterSet
	logger  *slog.Logger
	stopCh  chan struct{}
}

// NewRateLimiter creates a RateLimiter and starts its background
// cleanup of idle buckets.
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet(config.GeneralPerMinute),
		authSet: newLimiterSet(config.AuthPerMinute),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop halts the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// General limits the whole API surface.
func (rl *RateLimiter) General(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general", next)
}

// Auth limits the sign-up/sign-in/confirm endpoints, independently of
// the general tier.
func (rl *RateLimiter) Auth(next http.Handler) http.Handler {
	return rl.middleware(rl.authSet, "auth", next)
}

func (rl *RateLimiter) middleware(set *limiterSet, tier string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !set.allow(key) {
			rl.logger.Warn("rate limit exceeded",
				slog.String("client", key),
				slog.String("tier", tier),
			)
			writeRateLimited(w, set.limit)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		return "u:" + userID
	}
	if deviceID, ok := auth.DeviceIDFromContext(r.Context()); ok {
		return "d:" + deviceID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			ttl := rl.config.CleanupInterval * 2
			rl.general.cleanup(ttl)
			rl.authSet.cleanup(ttl)
		}
	}
}

// writeRateLimited sends the 429 with a Retry-After estimating when
// the next token lands.
func writeRateLimited(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := int(math.Ceil(1.0 / float64(limit)))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate_limited","message":"too many requests, slow down"}`))
}
