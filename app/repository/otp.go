package repository

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPNotFound         = errors.New("otp not found or expired")
	ErrOTPMismatch         = errors.New("otp does not match")
	ErrOTPAttemptsExceeded = errors.New("otp verification attempts exceeded")
)

const otpKeyPrefix = "otp"

// OTPStore keeps one pending verification code per email address. Codes expire
// with the configured TTL and are consumed on the first successful match.
type OTPStore struct {
	rdb         *redis.Client
	ttl         time.Duration
	maxAttempts int
}

func NewOTPStore(rdb *redis.Client, ttl time.Duration, maxAttempts int) *OTPStore {
	return &OTPStore{rdb: rdb, ttl: ttl, maxAttempts: maxAttempts}
}

func (s *OTPStore) codeKey(email string) string {
	return otpKeyPrefix + ":" + email
}

func (s *OTPStore) attemptsKey(email string) string {
	return otpKeyPrefix + ":" + email + ":attempts"
}

// Save stores a fresh code for the email, replacing any pending one and
// resetting the attempt counter.
func (s *OTPStore) Save(ctx context.Context, email, code string) error {
	if err := s.rdb.Set(ctx, s.codeKey(email), code, s.ttl).Err(); err != nil {
		return err
	}
	return s.rdb.Del(ctx, s.attemptsKey(email)).Err()
}

// Verify consumes the pending code when it matches. A mismatch counts against
// the attempt budget; exceeding it deletes the pending code outright.
func (s *OTPStore) Verify(ctx context.Context, email, code string) error {
	stored, err := s.rdb.Get(ctx, s.codeKey(email)).Result()
	if err == redis.Nil {
		return ErrOTPNotFound
	}
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		attempts, err := s.rdb.Incr(ctx, s.attemptsKey(email)).Result()
		if err != nil {
			return err
		}
		if err := s.rdb.Expire(ctx, s.attemptsKey(email), s.ttl).Err(); err != nil {
			return err
		}
		if attempts >= int64(s.maxAttempts) {
			if err := s.rdb.Del(ctx, s.codeKey(email), s.attemptsKey(email)).Err(); err != nil {
				return err
			}
			return ErrOTPAttemptsExceeded
		}
		return ErrOTPMismatch
	}

	return s.rdb.Del(ctx, s.codeKey(email), s.attemptsKey(email)).Err()
}
