package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles the public tracking endpoints per client IP using an
// atomic Redis Lua script. GET then INCR is racy under concurrent pixel hits,
// so the check and increment happen in one script call.
type RateLimiter struct {
	redis       *redis.Client
	perMinute   int
	limitScript *redis.Script
}

const limitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return 0
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return 1
`

// NewRateLimiter creates a tracking rate limiter with a pre-compiled script.
func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &RateLimiter{
		redis:       redisClient,
		perMinute:   perMinute,
		limitScript: redis.NewScript(limitLuaScript),
	}
}

// Allow checks and increments the per-minute counter for one client IP.
// Fails open: a Redis error never drops a tracking hit.
func (rl *RateLimiter) Allow(ctx context.Context, ip string) bool {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:track:%s:%d", ip, now.Unix()/60)

	result, err := rl.limitScript.Run(ctx, rl.redis,
		[]string{key},
		rl.perMinute,
		120, // 2 minute TTL
	).Int64()
	if err != nil {
		log.Printf("[RateLimiter] check error: %v", err)
		return true
	}

	return result == 1
}

// Middleware applies the limiter to a route group. Limited requests get 429
// with a plain JSON body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r.Context(), realIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close closes the Redis connection
func (rl *RateLimiter) Close() error {
	return rl.redis.Close()
}
