package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// maxReauthAttempts is the consecutive-failure cap per flow. The 5th failed
// credential check escalates to ErrTooManyAuthFailures and the caller must
// redirect to credential recovery.
const maxReauthAttempts = 5

const reauthCounterTTL = 15 * time.Minute

// ReauthService re-verifies the caller's password immediately before any
// money movement. Failure counting lives in exactly one place so every
// sensitive flow shares the same lockout behaviour.
type ReauthService struct {
	db    *sql.DB
	redis *redis.Client

	mu       sync.Mutex
	attempts map[string]int // fallback counters when Redis is unavailable
}

func NewReauthService(db *sql.DB, redisClient *redis.Client) *ReauthService {
	return &ReauthService{
		db:       db,
		redis:    redisClient,
		attempts: make(map[string]int),
	}
}

// Verify checks the password against the stored hash. On failure it bumps
// the per-(flow, user) counter; failures 1-4 return AuthFailedError, the 5th
// returns ErrTooManyAuthFailures and resets the counter. Success resets it.
func (s *ReauthService) Verify(ctx context.Context, userID int, password, flow string) error {
	var hashedPassword string
	err := s.db.QueryRowContext(ctx, `SELECT password FROM users WHERE id = $1`, userID).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		log.Printf("[REAUTH] Unknown user %d in flow %s", userID, flow)
		return &AuthFailedError{AttemptsRemaining: maxReauthAttempts - 1}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	key := fmt.Sprintf("reauth:%s:%d", flow, userID)

	if verifyPassword(password, hashedPassword) {
		s.reset(ctx, key)
		return nil
	}

	failures := s.bump(ctx, key)
	log.Printf("[REAUTH] Failed credential check for user %d in flow %s (failure %d)", userID, flow, failures)

	if failures >= maxReauthAttempts {
		s.reset(ctx, key)
		return ErrTooManyAuthFailures
	}
	return &AuthFailedError{AttemptsRemaining: maxReauthAttempts - failures}
}

func (s *ReauthService) bump(ctx context.Context, key string) int {
	if s.redis != nil {
		n, err := s.redis.Incr(ctx, key).Result()
		if err == nil {
			s.redis.Expire(ctx, key, reauthCounterTTL)
			return int(n)
		}
		log.Printf("[REAUTH] Redis counter unavailable, using in-process counter: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[key]++
	return s.attempts[key]
}

func (s *ReauthService) reset(ctx context.Context, key string) {
	if s.redis != nil {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			log.Printf("[REAUTH] Failed to reset counter %s: %v", key, err)
		}
	}

	s.mu.Lock()
	delete(s.attempts, key)
	s.mu.Unlock()
}
