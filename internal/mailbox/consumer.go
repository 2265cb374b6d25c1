package mailbox

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeLoop blocks-with-timeout on the inbox stream for entries not yet
// delivered to any consumer in the group, delivering each one, until the
// context is cancelled by Stop. Transport errors are logged and retried after
// a full poll interval; cancellation is the only way out.
func (s *Service) consumeLoop(ctx context.Context) {
	s.logger.Info("consume loop started", "agent_id", s.opts.AgentID, "stream", s.stream, "consumer", s.consumer)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("consume loop stopped", "agent_id", s.opts.AgentID, "reason", ctx.Err().Error())
			return
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    readBatchSize,
			Block:    s.opts.PollInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Block timeout with nothing new.
				continue
			}
			if ctx.Err() != nil {
				// Cancellation initiated by Stop; propagate out rather than
				// treating it as a transport failure.
				s.logger.Debug("consume loop stopped", "agent_id", s.opts.AgentID, "reason", ctx.Err().Error())
				return
			}
			s.logger.Warn("inbox read failed, backing off",
				"agent_id", s.opts.AgentID, "stream", s.stream, "backoff", s.opts.PollInterval.String(), "err", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.PollInterval):
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				s.deliver(ctx, msg)
			}
		}
	}
}

// deliver is the single-iteration decode → dispatch → acknowledge step shared
// by the consume loop and the recovery sweep. It reports whether the entry
// reached the handlers; undecodable entries are acknowledged and dropped so a
// poison message cannot wedge the pending list indefinitely (a deliberate
// policy, see DESIGN.md).
func (s *Service) deliver(ctx context.Context, msg redis.XMessage) bool {
	env, err := DecodeEnvelope(msg.Values)
	if err != nil {
		s.logger.Error("dropping undecodable entry",
			"agent_id", s.opts.AgentID, "stream", s.stream, "entry_id", msg.ID, "err", err.Error())
		s.ack(ctx, msg.ID)
		return false
	}
	// The record id is authoritative from here on.
	env.MessageID = msg.ID
	s.dispatch(ctx, env)
	s.ack(ctx, msg.ID)
	return true
}

func (s *Service) ack(ctx context.Context, id string) {
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("ack failed", "agent_id", s.opts.AgentID, "entry_id", id, "err", err.Error())
	}
}
