package httpmiddleware

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int64, retryAfter time.Duration, err error)
}

// SimpleTokenBucket is an in-memory per-key limiter.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	mu       sync.Mutex
	state    map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

func (l *SimpleTokenBucket) Allow(_ context.Context, key string) (bool, int64, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.state[key] = b
	}
	if l.rate > 0 {
		perToken := time.Minute / time.Duration(l.rate)
		if refill := int(now.Sub(b.last) / perToken); refill > 0 {
			b.tokens = min(l.capacity, b.tokens+refill)
			b.last = b.last.Add(time.Duration(refill) * perToken)
		}
		if b.tokens <= 0 {
			return false, 0, perToken - now.Sub(b.last), nil
		}
	} else if b.tokens <= 0 {
		return false, 0, time.Minute, nil
	}
	b.tokens--
	return true, int64(b.tokens), 0, nil
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

if interval_ms > 0 then
  local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals)
    last_refill = last_refill + intervals * interval_ms
  end
end

local allowed = 0
local retry_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_ms }
`)

// RedisTokenBucket shares one bucket per key across every API process. When
// redis fails it degrades to the local fallback bucket.
type RedisTokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	perMin   int
	fallback *SimpleTokenBucket
}

// NewRedisTokenBucket refills one token every minute/perMinute.
func NewRedisTokenBucket(client *redis.Client, prefix string, capacity, perMinute int) *RedisTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	if prefix == "" {
		prefix = "facesense:rl"
	}
	return &RedisTokenBucket{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		perMin:   perMinute,
		fallback: NewSimpleTokenBucket(capacity, perMinute),
	}
}

func (l *RedisTokenBucket) Allow(ctx context.Context, key string) (bool, int64, time.Duration, error) {
	var intervalMs int64
	if l.perMin > 0 {
		intervalMs = (time.Minute / time.Duration(l.perMin)).Milliseconds()
	}
	vals, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		time.Now().UnixMilli(), l.capacity, intervalMs, 3600).Int64Slice()
	if err != nil || len(vals) != 3 {
		if err == nil {
			err = fmt.Errorf("unexpected script result %v", vals)
		}
		log.Printf("ratelimit: redis unavailable, using local bucket: %v", err)
		return l.fallback.Allow(ctx, key)
	}
	return vals[0] == 1, vals[1], time.Duration(vals[2]) * time.Millisecond, nil
}

// GinMiddleware enforces per-client-IP limits.
func GinMiddleware(l Limiter, capacity int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		allowed, remaining, retry, err := l.Allow(c.Request.Context(), "ip:"+ip)
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(capacity))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !allowed {
			secs := int(math.Ceil(retry.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit", "retry_after": secs})
			return
		}
		c.Next()
	}
}
