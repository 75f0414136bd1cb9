package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/snackychef/auth-service/internal/client"
)

// OTPAttemptCache counts failed verification attempts per user. The
// counter expires on its own, so a user locked out by too many wrong
// codes regains access after the window passes.
type OTPAttemptCache struct {
	redis *client.RedisClient
}

func NewOTPAttemptCache(redisClient *client.RedisClient) *OTPAttemptCache {
	return &OTPAttemptCache{redis: redisClient}
}

func attemptKey(userID string) string {
	return fmt.Sprintf("otp:attempts:%s", userID)
}

// IncrementAttempts bumps the failure counter and returns the new count.
// Every increment refreshes the TTL so the window slides with activity.
func (c *OTPAttemptCache) IncrementAttempts(ctx context.Context, userID string, ttl time.Duration) (int, error) {
	count, err := c.redis.IncrWithExpire(ctx, attemptKey(userID), ttl)
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return int(count), nil
}

// ResetAttempts clears the counter after a successful verification.
func (c *OTPAttemptCache) ResetAttempts(ctx context.Context, userID string) error {
	if err := c.redis.Del(ctx, attemptKey(userID)); err != nil {
		return fmt.Errorf("reset otp attempts: %w", err)
	}
	return nil
}
