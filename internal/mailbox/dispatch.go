package mailbox

import (
	"context"
	"fmt"
)

// Handler consumes one delivered envelope. Returned errors are logged and
// isolated; they never affect acknowledgment or other handlers.
type Handler func(ctx context.Context, env *Envelope) error

// Register appends a handler to the dispatch list. Handlers registered before
// Start participate in the recovery sweep; later registrations see the
// messages dispatched after they were added. Register is safe to call while
// the consume loop runs.
func (s *Service) Register(h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Service) handlerCount() int {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	return len(s.handlers)
}

// dispatch invokes every registered handler in registration order with the
// same envelope. A failing or panicking handler never prevents the remaining
// handlers from running.
func (s *Service) dispatch(ctx context.Context, env *Envelope) {
	// Snapshot once per dispatch; the slice is append-only so the snapshot
	// stays valid while concurrent Register calls grow the list.
	s.handlersMu.Lock()
	handlers := s.handlers
	s.handlersMu.Unlock()
	for i, h := range handlers {
		s.invoke(ctx, i, h, env)
	}
}

func (s *Service) invoke(ctx context.Context, i int, h Handler, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				"agent_id", s.opts.AgentID, "handler", i, "message_id", env.MessageID, "panic", fmt.Sprint(r))
		}
	}()
	if err := h(ctx, env); err != nil {
		s.logger.Error("handler failed",
			"agent_id", s.opts.AgentID, "handler", i, "message_id", env.MessageID, "err", err.Error())
	}
}
