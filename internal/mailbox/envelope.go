package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultMessageType is used when a sender does not classify a message.
const DefaultMessageType = "direct_message"

// ErrMalformedMessage marks stream entries that cannot be decoded into an
// Envelope (missing fields or an unparseable payload).
var ErrMalformedMessage = errors.New("malformed message")

// Envelope is one point-to-point message between agents. It is immutable after
// creation, with one exception: MessageID is rewritten to the stream-assigned
// record id once the envelope is appended, so acknowledgment and redelivery
// always refer to the authoritative id.
type Envelope struct {
	MessageID   string
	Sender      string
	Recipient   string
	Payload     any
	MessageType string
	Timestamp   float64
}

// NewEnvelope builds an envelope for payload from sender to recipient.
// messageType and messageID are optional; an empty type defaults to
// DefaultMessageType and an empty id gets a generated UUID.
func NewEnvelope(sender, recipient string, payload any, messageType, messageID string) *Envelope {
	if messageType == "" {
		messageType = DefaultMessageType
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return &Envelope{
		MessageID:   messageID,
		Sender:      sender,
		Recipient:   recipient,
		Payload:     payload,
		MessageType: messageType,
		Timestamp:   float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// WireFields flattens the envelope into the text field map stored per stream
// entry. The payload is JSON-encoded into a single field; the timestamp is a
// text-encoded number.
func (e *Envelope) WireFields() (map[string]any, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return map[string]any{
		"message_id":   e.MessageID,
		"sender":       e.Sender,
		"recipient":    e.Recipient,
		"payload":      string(raw),
		"message_type": e.MessageType,
		"timestamp":    strconv.FormatFloat(e.Timestamp, 'f', -1, 64),
	}, nil
}

// DecodeEnvelope rebuilds an Envelope from the field map of a stream entry.
// Scalars arrive as text on the wire; typed payload values are restored by the
// JSON layer. Returns ErrMalformedMessage when required fields are absent or
// the payload is not valid JSON.
func DecodeEnvelope(values map[string]any) (*Envelope, error) {
	get := func(key string) (string, bool) {
		raw, ok := values[key]
		if !ok {
			return "", false
		}
		switch v := raw.(type) {
		case string:
			return v, true
		case []byte:
			return string(v), true
		default:
			return "", false
		}
	}

	env := &Envelope{MessageType: DefaultMessageType}
	var ok bool
	if env.MessageID, ok = get("message_id"); !ok {
		return nil, fmt.Errorf("%w: missing message_id", ErrMalformedMessage)
	}
	if env.Sender, ok = get("sender"); !ok {
		return nil, fmt.Errorf("%w: missing sender", ErrMalformedMessage)
	}
	if env.Recipient, ok = get("recipient"); !ok {
		return nil, fmt.Errorf("%w: missing recipient", ErrMalformedMessage)
	}
	rawPayload, ok := get("payload")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedMessage)
	}
	if err := json.Unmarshal([]byte(rawPayload), &env.Payload); err != nil {
		return nil, fmt.Errorf("%w: invalid payload: %v", ErrMalformedMessage, err)
	}
	if t, ok := get("message_type"); ok && t != "" {
		env.MessageType = t
	}
	if ts, ok := get("timestamp"); ok {
		parsed, err := strconv.ParseFloat(ts, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timestamp: %v", ErrMalformedMessage, err)
		}
		env.Timestamp = parsed
	}
	return env, nil
}
