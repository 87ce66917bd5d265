package services

import (
	"context"
	"testing"
	"time"
	"unicode"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestShareCodeService_Issue(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a single-use code", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		service := NewShareCodeService(redisClient)

		mock.ExpectGet("paycode:ratelimit:7").RedisNil()
		mock.Regexp().ExpectSetNX(`paycode:[0-9]{8}`, "req-1", 15*time.Minute).SetVal(true)
		mock.ExpectIncr("paycode:ratelimit:7").SetVal(1)
		mock.ExpectExpire("paycode:ratelimit:7", time.Hour).SetVal(true)

		code, err := service.Issue(ctx, 7, "req-1")
		assert.NoError(t, err)
		assert.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, unicode.IsDigit(r))
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rate limited user cannot issue", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		service := NewShareCodeService(redisClient)

		mock.ExpectGet("paycode:ratelimit:7").SetVal("10")

		_, err := service.Issue(ctx, 7, "req-1")
		assert.ErrorIs(t, err, ErrCodeRateLimited)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unavailable without redis", func(t *testing.T) {
		service := NewShareCodeService(nil)

		_, err := service.Issue(ctx, 7, "req-1")
		assert.ErrorIs(t, err, ErrCodesUnavailable)
	})
}

func TestShareCodeService_Redeem(t *testing.T) {
	ctx := context.Background()

	t.Run("code resolves at most once", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		service := NewShareCodeService(redisClient)

		mock.ExpectGetDel("paycode:12345678").SetVal("req-1")
		mock.ExpectGetDel("paycode:12345678").RedisNil()

		requestID, err := service.Redeem(ctx, "12345678")
		assert.NoError(t, err)
		assert.Equal(t, "req-1", requestID)

		_, err = service.Redeem(ctx, "12345678")
		assert.ErrorIs(t, err, ErrCodeInvalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown code", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		service := NewShareCodeService(redisClient)

		mock.ExpectGetDel("paycode:99999999").RedisNil()

		_, err := service.Redeem(ctx, "99999999")
		assert.ErrorIs(t, err, ErrCodeInvalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
