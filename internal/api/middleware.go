package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"options-core/internal/monitor"
	"options-core/pkg/coord"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const accountKey = "Account"

// limiterRegistry hands out one token bucket per client IP and evicts
// buckets that have been quiet for a while, so the map does not grow
// with every address ever seen.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	maxIdle  time.Duration
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLimiterRegistry(r rate.Limit, burst int, maxIdle time.Duration) *limiterRegistry {
	reg := &limiterRegistry{
		limiters: make(map[string]*ipLimiter),
		rate:     r,
		burst:    burst,
		maxIdle:  maxIdle,
	}
	go reg.evictLoop()
	return reg
}

func (r *limiterRegistry) allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.limiters[ip]
	if !ok {
		entry = &ipLimiter{lim: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.lim.Allow()
}

func (r *limiterRegistry) evictLoop() {
	ticker := time.NewTicker(r.maxIdle)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-r.maxIdle)
		r.mu.Lock()
		for ip, entry := range r.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(r.limiters, ip)
			}
		}
		r.mu.Unlock()
	}
}

// Session control endpoints are low-frequency by nature; 10 req/s with
// a small burst covers dashboards polling status.
var apiLimiters = newLimiterRegistry(rate.Limit(10), 30, 5*time.Minute)

// RateLimitMiddleware throttles clients per IP.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !apiLimiters.allow(ip) {
			log.Printf("[RATE_LIMIT] IP %s exceeded rate limit", ip)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many requests, please slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AccountParamMiddleware canonicalizes the :account route parameter the
// same way the coordination store keys it, so "User@X.com" and
// "user@x.com" address the same session. Handlers read the normalized
// value from the context.
func AccountParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := coord.NormalizeAccount(c.Param("account"))
		if account == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  http.StatusBadRequest,
				"error": "account identifier is required",
			})
			c.Abort()
			return
		}
		c.Set(accountKey, account)
		c.Next()
	}
}

// sessionAccount returns the normalized account set by
// AccountParamMiddleware.
func sessionAccount(c *gin.Context) string {
	return c.GetString(accountKey)
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// TimeoutMiddleware prevents long-running requests from blocking resources
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})
		panicChan := make(chan interface{}, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicChan <- p
				}
			}()
			c.Next()
			finished <- struct{}{}
		}()

		select {
		case <-panicChan:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			c.Abort()
		case <-finished:
			return
		case <-ctx.Done():
			log.Printf("[TIMEOUT] Request timeout: %s %s", c.Request.Method, c.Request.URL.Path)
			c.JSON(http.StatusRequestTimeout, gin.H{
				"error":   "request timeout",
				"message": "request took too long to process",
			})
			c.Abort()
		}
	}
}

// RequestLogger logs API requests with timing, status and the session
// account the request addressed; optionally records metrics.
func RequestLogger(metrics *monitor.SystemMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		requestID := c.GetString("RequestID")
		if len(requestID) > 8 {
			requestID = requestID[:8]
		}
		if requestID == "" {
			requestID = "unknown"
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()

		if metrics != nil {
			metrics.IncrementAPI()
			metrics.APILatency.RecordDuration(latency)
			if statusCode >= 400 {
				metrics.IncrementAPIErrors()
			}
		}

		account := sessionAccount(c)
		if account == "" {
			account = "-"
		}
		log.Printf("[API] %s | %s %s | %d | %v | %s | %s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			clientIP,
			account,
		)
	}
}
