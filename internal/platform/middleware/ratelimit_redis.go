package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// WindowCounter increments the hit count for key in the current window and
// returns the new total.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisCounter is a fixed-window WindowCounter shared by every server
// instance pointing at the same Redis.
type RedisCounter struct {
	rdb redis.Scripter
}

func NewRedisCounter(rdb redis.Scripter) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (rc *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = int64(time.Minute / time.Millisecond)
	}
	res, err := fixedWindowScript.Run(ctx, rc.rdb, []string{key}, ms).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}

// WindowLimitConfig configures the fixed-window limiter.
type WindowLimitConfig struct {
	Limit  int
	Window time.Duration
	Prefix string
	// FailOpen lets requests through when the counter backend errors.
	FailOpen bool
}

// WindowRateLimit allows Limit requests per key per Window.
func WindowRateLimit(counter WindowCounter, cfg WindowLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix == "" {
		cfg.Prefix = "clinic:rl"
	}
	limit := strconv.Itoa(cfg.Limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			count, err := counter.Incr(c.Request().Context(), cfg.Prefix+":"+rateLimitKey(c), cfg.Window)
			if err != nil {
				logger.Warn().Err(err).Msg("rate limiter backend error")
				if cfg.FailOpen {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusServiceUnavailable, apperr.Body{
					Kind:    apperr.KindUnavailable,
					Message: "rate limiter unavailable",
				})
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			remaining := int64(cfg.Limit) - count
			if remaining < 0 {
				remaining = 0
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(cfg.Limit) {
				h.Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				return rateLimited()
			}
			return next(c)
		}
	}
}
