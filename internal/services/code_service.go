package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/go-redis/redis/v8"
	"github.com/kivapay/backend/internal/config"
)

var (
	ErrCodeInvalid      = errors.New("invalid or expired code")
	ErrCodeRateLimited  = errors.New("too many codes generated, try again later")
	ErrCodesUnavailable = errors.New("code service unavailable")
)

// ShareCodeService issues short numeric codes that map to payment requests,
// so a request can be shared over channels that cannot carry a link. Codes
// are single-use and expire on their own.
type ShareCodeService struct {
	redis  *redis.Client
	config *config.ShareCodeConfig
}

func NewShareCodeService(redisClient *redis.Client) *ShareCodeService {
	return &ShareCodeService{
		redis:  redisClient,
		config: config.LoadShareCodeConfig(),
	}
}

// Issue creates a code pointing at the given payment request.
func (s *ShareCodeService) Issue(ctx context.Context, userID int, requestID string) (string, error) {
	if s.redis == nil {
		return "", ErrCodesUnavailable
	}
	if err := s.checkRateLimit(ctx, userID); err != nil {
		return "", err
	}

	// Retry on the unlikely collision with a live code.
	for attempt := 0; attempt < 3; attempt++ {
		code := s.generateSecureCode()
		ok, err := s.redis.SetNX(ctx, s.key(code), requestID, s.config.CodeTimeout).Result()
		if err != nil {
			return "", fmt.Errorf("failed to store code: %w", err)
		}
		if ok {
			s.incrementRateLimit(ctx, userID)
			log.Printf("[CODE] Issued share code for request %s by user %d", requestID, userID)
			return code, nil
		}
	}
	return "", errors.New("failed to allocate a unique code")
}

// Redeem consumes a code and returns the payment request it points at.
// A code resolves at most once.
func (s *ShareCodeService) Redeem(ctx context.Context, code string) (string, error) {
	if s.redis == nil {
		return "", ErrCodesUnavailable
	}

	requestID, err := s.redis.GetDel(ctx, s.key(code)).Result()
	if err == redis.Nil {
		return "", ErrCodeInvalid
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve code: %w", err)
	}

	log.Printf("[CODE] Share code redeemed for request %s", requestID)
	return requestID, nil
}

func (s *ShareCodeService) key(code string) string {
	return "paycode:" + code
}

func (s *ShareCodeService) generateSecureCode() string {
	const charset = "0123456789"
	code := make([]byte, s.config.CodeLength)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := range code {
		n, _ := rand.Int(rand.Reader, charsetLen)
		code[i] = charset[n.Int64()]
	}

	return string(code)
}

func (s *ShareCodeService) checkRateLimit(ctx context.Context, userID int) error {
	key := fmt.Sprintf("paycode:ratelimit:%d", userID)
	count, err := s.redis.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return err
	}

	if count >= s.config.MaxGenerationPerUser {
		return ErrCodeRateLimited
	}

	return nil
}

func (s *ShareCodeService) incrementRateLimit(ctx context.Context, userID int) {
	key := fmt.Sprintf("paycode:ratelimit:%d", userID)
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.RateLimitWindow)
	pipe.Exec(ctx)
}
