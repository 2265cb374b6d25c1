package mailbox

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SendOptions carries the optional per-message knobs of Send.
type SendOptions struct {
	// MessageType defaults to DefaultMessageType.
	MessageType string
	// MessageID defaults to a generated UUID. The returned id is always the
	// stream-assigned record id, not this value.
	MessageID string
}

// Send appends payload to recipient's inbox stream and returns the resulting
// stream record id. It connects transparently when needed and never requires
// Start to have been called. Transport failures surface unretried; callers
// own retry policy.
func (s *Service) Send(ctx context.Context, recipient string, payload any) (string, error) {
	return s.SendWith(ctx, recipient, payload, SendOptions{})
}

// SendWith is Send with an explicit message type and id.
func (s *Service) SendWith(ctx context.Context, recipient string, payload any, opts SendOptions) (string, error) {
	s.mu.Lock()
	err := s.ensureConnected(ctx)
	client := s.client
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	env := NewEnvelope(s.opts.AgentID, recipient, payload, opts.MessageType, opts.MessageID)
	values, err := env.WireFields()
	if err != nil {
		return "", err
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(s.opts.StreamPrefix, recipient),
		MaxLen: s.opts.MaxStreamLength,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", StreamName(s.opts.StreamPrefix, recipient), err)
	}
	env.MessageID = id
	s.logger.Debug("message sent",
		"sender", s.opts.AgentID, "recipient", recipient, "message_id", id, "message_type", env.MessageType)
	return id, nil
}
