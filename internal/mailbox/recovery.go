package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecoveryStats summarizes one recovery sweep. A sweep that found nothing
// pending still produces stats, so callers can tell "no recovery needed" from
// "recovery not run".
type RecoveryStats struct {
	// TotalRecovered counts entries redelivered to the handlers. Undecodable
	// entries that were acknowledged and dropped are not counted.
	TotalRecovered int
	Batches        int
	StartedAt      time.Time
	CompletedAt    time.Time
}

// recoverPending reclaims entries that an earlier consumer instance read but
// never acknowledged and pushes them through the regular delivery step before
// live consumption begins. It claims in batches with an advancing cursor until
// a claim comes back empty. Callers must hold s.mu.
func (s *Service) recoverPending(ctx context.Context) (stats RecoveryStats, err error) {
	stats.StartedAt = time.Now()
	defer func() {
		stats.CompletedAt = time.Now()
		if s.opts.OnRecovery != nil {
			s.opts.OnRecovery(stats)
		}
	}()

	cursor := "0-0"
	for {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.opts.RecoveryMinIdleTime,
			Start:    cursor,
			Count:    s.opts.RecoveryBatchSize,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return stats, nil
			}
			return stats, fmt.Errorf("claim pending entries: %w", err)
		}
		if len(msgs) == 0 {
			return stats, nil
		}

		stats.Batches++
		for _, msg := range msgs {
			if s.deliver(ctx, msg) {
				stats.TotalRecovered++
			}
		}
		cursor = next
	}
}
