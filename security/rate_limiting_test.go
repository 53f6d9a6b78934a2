package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowFirstRequestStartsWindow(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(redisClient, 30, time.Minute)

	mock.ExpectIncr("ratelimit:checkout:192.0.2.1").SetVal(1)
	mock.ExpectExpire("ratelimit:checkout:192.0.2.1", time.Minute).SetVal(true)

	err := limiter.allow(context.Background(), "192.0.2.1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(redisClient, 30, time.Minute)

	// Not the first request in the window, so no expiry is set.
	mock.ExpectIncr("ratelimit:checkout:192.0.2.1").SetVal(30)

	err := limiter.allow(context.Background(), "192.0.2.1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_OverLimitReturns429(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(redisClient, 30, time.Minute)

	mock.ExpectIncr("ratelimit:checkout:192.0.2.1").SetVal(31)

	err := limiter.allow(context.Background(), "192.0.2.1")

	var apiErr *router.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FailOpenOnRedisError(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(redisClient, 30, time.Minute)

	mock.ExpectIncr("ratelimit:checkout:192.0.2.1").SetErr(errors.New("connection refused"))

	err := limiter.allow(context.Background(), "192.0.2.1")

	assert.NoError(t, err)
}

func TestRateLimiter_AuthedIdentityUsesSeparateKey(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(redisClient, 30, time.Minute)

	mock.ExpectIncr("ratelimit:checkout:user:buyer_1").SetVal(2)

	err := limiter.allow(context.Background(), "user:buyer_1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
