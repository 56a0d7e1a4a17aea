package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	MessagesPerMinute int           // Max chat messages per client per minute
	BurstSize         int           // Allow burst of N requests
	CleanupInterval   time.Duration // How often to clean up old entries
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can proceed and consumes a token if so
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Remaining returns the number of tokens remaining
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	return int(min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate)))
}

// ClientRateLimiter manages chat rate limits per client address. The chat
// endpoints have no session concept, so the remote IP is the limit key.
type ClientRateLimiter struct {
	config      RateLimiterConfig
	buckets     map[string]*TokenBucket
	mu          sync.RWMutex
	logger      *zap.Logger
	stopCleanup chan struct{}
}

func NewClientRateLimiter(config RateLimiterConfig, logger *zap.Logger) *ClientRateLimiter {
	limiter := &ClientRateLimiter{
		config:      config,
		buckets:     make(map[string]*TokenBucket),
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go limiter.cleanupRoutine()
	return limiter
}

func (rl *ClientRateLimiter) cleanupRoutine() {
	interval := rl.config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops all buckets once the map grows large. Idle clients simply get
// a fresh full bucket next time.
func (rl *ClientRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.buckets) > 1000 {
		rl.logger.Info("Cleaning up rate limiter cache", zap.Int("clients", len(rl.buckets)))
		rl.buckets = make(map[string]*TokenBucket)
	}
}

// Stop stops the cleanup routine
func (rl *ClientRateLimiter) Stop() {
	close(rl.stopCleanup)
}

// Allow checks if a request from the given client can proceed
func (rl *ClientRateLimiter) Allow(clientKey string) bool {
	rl.mu.Lock()
	bucket, exists := rl.buckets[clientKey]
	if !exists {
		refillRate := float64(rl.config.MessagesPerMinute) / 60.0
		bucket = NewTokenBucket(float64(rl.config.BurstSize), refillRate)
		rl.buckets[clientKey] = bucket
	}
	rl.mu.Unlock()

	return bucket.Allow()
}

// Limit returns remaining tokens and the configured burst for a client
func (rl *ClientRateLimiter) Limit(clientKey string) (remaining int, limit int) {
	rl.mu.RLock()
	bucket, exists := rl.buckets[clientKey]
	rl.mu.RUnlock()

	if !exists {
		return rl.config.BurstSize, rl.config.BurstSize
	}
	return bucket.Remaining(), rl.config.BurstSize
}

// RateLimitMiddleware creates a Gin middleware limiting chat requests per
// client IP
func RateLimitMiddleware(limiter *ClientRateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.ClientIP()
		allowed := limiter.Allow(clientKey)
		remaining, limit := limiter.Limit(clientKey)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			logger.Warn("Rate limit exceeded",
				zap.String("client", clientKey),
				zap.Int("limit", limit))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"limit":       limit,
				"remaining":   remaining,
				"retry_after": 60,
			})
			return
		}

		c.Next()
	}
}
