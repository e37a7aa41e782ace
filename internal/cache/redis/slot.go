package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/omenlabs/omend/internal/domain"
)

// unlockLua deletes a slot key only if its value matches the caller's unique
// token. This prevents one holder from accidentally releasing another
// holder's slot after a TTL expiry.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// SubmissionSlots implements domain.SubmissionSlots using Redis SETNX with a
// TTL and a Lua-based conditional unlock. One slot exists per
// (requester, target, kind) tuple; holding it marks an outstanding
// submission for that tuple. The TTL bounds how long a crashed process can
// keep a slot wedged.
type SubmissionSlots struct {
	rdb      *redis.Client
	ttl      time.Duration
	unlockSc *redis.Script
}

// NewSubmissionSlots creates a SubmissionSlots backed by the given Client.
func NewSubmissionSlots(c *Client, ttl time.Duration) *SubmissionSlots {
	return &SubmissionSlots{
		rdb:      c.Underlying(),
		ttl:      ttl,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func slotKey(key domain.SlotKey) string {
	return "slot:" + key.String()
}

// Acquire attempts to obtain the submission slot for the given key. On
// success it returns a release function that must be called once the
// operation reaches a state that cannot produce another submission. The
// release function is safe to call multiple times.
//
// It returns domain.ErrSlotHeld if the slot is already taken.
func (s *SubmissionSlots) Acquire(ctx context.Context, key domain.SlotKey) (func(), error) {
	token := uuid.New().String()
	sk := slotKey(key)

	ok, err := s.rdb.SetNX(ctx, sk, token, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire slot %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrSlotHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Use a background context so release succeeds even if the caller's
		// context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = s.unlockSc.Run(releaseCtx, s.rdb, []string{sk}, token).Err()
	}

	return release, nil
}

// Compile-time interface check.
var _ domain.SubmissionSlots = (*SubmissionSlots)(nil)
