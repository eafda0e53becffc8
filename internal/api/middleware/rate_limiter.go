package middleware

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

// RouteLimit is a token bucket applied to requests whose method and path match.
// An empty Method matches any method.
type RouteLimit struct {
	Method    string
	Prefix    string
	PerMinute int
	Burst     int
}

func (l RouteLimit) matches(method, path string) bool {
	return (l.Method == "" || l.Method == method) && strings.HasPrefix(path, l.Prefix)
}

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	// Default bucket for requests no route limit matches
	PerMinute int
	Burst     int
	// Routes are checked in order, the first match wins
	Routes []RouteLimit
	// IdleTTL drops buckets of tenants that stopped calling
	IdleTTL time.Duration
	// Key returns the bucket owner, "" lets the request through
	Key func(c *fiber.Ctx) string
}

// DefaultRateLimiterConfig returns default configuration
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PerMinute: 1000,
		Burst:     100,
		Routes:    LivenessRateLimits(),
		IdleTTL:   10 * time.Minute,
		Key:       tenantKey,
	}
}

// LivenessRateLimits são os limites por rota da API de liveness.
// Observações chegam a ~15/s por sessão e usam o bucket padrão.
func LivenessRateLimits() []RouteLimit {
	return []RouteLimit{
		{Method: fiber.MethodPost, Prefix: "/v1/liveness/sessions/", PerMinute: 1000, Burst: 100},
		{Method: fiber.MethodPost, Prefix: "/v1/liveness/sessions", PerMinute: 120, Burst: 20},
		{Prefix: "/v1/webhooks", PerMinute: 20, Burst: 5},
		{Prefix: "/v1/usage", PerMinute: 60, Burst: 10},
	}
}

func tenantKey(c *fiber.Ctx) string {
	tenantID, ok := c.Locals(LocalTenantID).(uuid.UUID)
	if !ok {
		return ""
	}
	return tenantID.String()
}

type bucket struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per tenant and route group
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts evicting idle buckets
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = defaults.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.Key == nil {
		config.Key = tenantKey
	}

	rl := &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go rl.evictLoop()

	return rl
}

// Stop ends the eviction goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
}

// route returns the bucket group and limits for a request
func (rl *RateLimiter) route(method, path string) (string, int, int) {
	for i, r := range rl.config.Routes {
		if r.matches(method, path) {
			return strconv.Itoa(i), r.PerMinute, r.Burst
		}
	}
	return "default", rl.config.PerMinute, rl.config.Burst
}

func (rl *RateLimiter) bucketFor(key string, perMinute, burst int, now time.Time) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
			limit:   perMinute,
		}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Handler returns the Fiber middleware handler
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner := rl.config.Key(c)
		if owner == "" {
			return c.Next()
		}

		group, perMinute, burst := rl.route(c.Method(), c.Path())
		now := rl.now()
		b := rl.bucketFor(owner+"|"+group, perMinute, burst, now)

		c.Set("X-RateLimit-Limit", strconv.Itoa(b.limit))

		if !b.limiter.AllowN(now, 1) {
			wait := b.limiter.ReserveN(now, 1)
			delay := wait.DelayFrom(now)
			wait.CancelAt(now)

			c.Set("X-RateLimit-Remaining", "0")
			c.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			return domain.ErrRateLimitExceeded
		}

		remaining := int(b.limiter.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		return c.Next()
	}
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.config.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

// evictIdle drops buckets unused for IdleTTL. A dropped bucket is full again
// on the next request, which is what an idle bucket would have refilled to.
func (rl *RateLimiter) evictIdle() int {
	cutoff := rl.now().Add(-rl.config.IdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	return evicted
}
