package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, try again later")

// redisLimiterStore allows `limit` requests per identifier and fixed window, shared by every API instance.
type redisLimiterStore struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

var _ middleware.RateLimiterStore = (*redisLimiterStore)(nil)

func newRedisLimiterStore(rdb *redis.Client, limit int, window time.Duration) *redisLimiterStore {
	return &redisLimiterStore{rdb: rdb, limit: int64(limit), window: window}
}

func (st *redisLimiterStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := "ratelimit:login:" + identifier
	count, err := st.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, errors.Wrap(err, "counting request")
	}
	if count == 1 {
		if err := st.rdb.Expire(ctx, key, st.window).Err(); err != nil {
			return false, errors.Wrap(err, "starting window")
		}
	}
	return count <= st.limit, nil
}

// loginRateLimiter throttles the public auth endpoints per client IP.
func (s *server) loginRateLimiter() echo.MiddlewareFunc {
	conf := s.deps.Conf.RateLimit
	if !conf.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	var store middleware.RateLimiterStore
	if s.deps.Redis != nil {
		store = newRedisLimiterStore(s.deps.Redis, conf.Capacity, time.Duration(conf.Capacity)*conf.RefillInterval)
	} else {
		store = middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Every(conf.RefillInterval),
			Burst:     conf.Capacity,
			ExpiresIn: 3 * time.Minute,
		})
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return errHttpForbidden
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			if err != nil {
				s.deps.Logger.Error("rate limiter unavailable", err)
			}
			return errTooManyRequests
		},
	})
}
