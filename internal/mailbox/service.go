package mailbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mailbox/internal/logging"
)

// Options configures a mailbox Service. Zero values fall back to the defaults
// below; AgentID is the only required field.
type Options struct {
	AgentID string

	Host     string
	Port     int
	DB       int
	Password string

	StreamPrefix    string
	MaxStreamLength int64
	PollInterval    time.Duration

	EnableRecovery      bool
	RecoveryMinIdleTime time.Duration
	RecoveryBatchSize   int64

	// GroupStartID is the stream position the consumer group is created at:
	// "$" delivers new messages only, "0" replays the whole stream.
	GroupStartID string

	// OnRecovery, if set, receives the stats of every recovery sweep,
	// including sweeps that found nothing pending.
	OnRecovery func(RecoveryStats)

	// Client overrides the lazily-dialed redis client. A supplied client
	// stays open across Stop; the supplier owns its lifetime.
	Client Client

	Logger logging.Logger
}

// Default tunables.
const (
	DefaultMaxStreamLength     = int64(1000)
	DefaultPollInterval        = time.Second
	DefaultRecoveryMinIdleTime = time.Minute
	DefaultRecoveryBatchSize   = int64(100)

	readBatchSize = int64(16)
)

// Service is one agent's mailbox endpoint: it produces into other agents'
// inbox streams and consumes its own through a consumer group. Producing and
// consuming are independent; Send works without Start ever being called.
type Service struct {
	opts     Options
	logger   logging.Logger
	stream   string
	group    string
	consumer string

	mu         sync.Mutex
	client     Client
	ownsClient bool
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}

	handlersMu sync.Mutex
	handlers   []Handler
}

// New builds a Service for agentID's inbox. The connection is dialed lazily on
// the first Send or Start.
func New(opts Options) *Service {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = DefaultStreamPrefix
	}
	if opts.MaxStreamLength <= 0 {
		opts.MaxStreamLength = DefaultMaxStreamLength
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RecoveryMinIdleTime < 0 {
		opts.RecoveryMinIdleTime = DefaultRecoveryMinIdleTime
	}
	if opts.RecoveryBatchSize <= 0 {
		opts.RecoveryBatchSize = DefaultRecoveryBatchSize
	}
	if opts.GroupStartID == "" {
		opts.GroupStartID = "$"
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6379
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("info")
	}
	return &Service{
		opts:     opts,
		logger:   opts.Logger,
		stream:   StreamName(opts.StreamPrefix, opts.AgentID),
		group:    GroupName(opts.AgentID),
		consumer: ConsumerName(opts.AgentID),
		client:   opts.Client,
	}
}

// AgentID returns the owning agent's id.
func (s *Service) AgentID() string { return s.opts.AgentID }

// ensureConnected dials and pings Redis if no connection is live yet.
// Callers must hold s.mu.
func (s *Service) ensureConnected(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	if s.opts.Client != nil {
		// A supplied client is reattached across Stop/Start cycles; the
		// supplier controls its real lifetime.
		s.client = s.opts.Client
		s.ownsClient = false
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port),
		DB:       s.opts.DB,
		Password: s.opts.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect redis %s:%d: %w", s.opts.Host, s.opts.Port, err)
	}
	s.client = client
	s.ownsClient = true
	s.logger.Debug("redis connected", "agent_id", s.opts.AgentID, "addr", fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port))
	return nil
}

// createGroup creates this agent's consumer group, treating an already-existing
// group as success. Callers must hold s.mu.
func (s *Service) createGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, s.opts.GroupStartID).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "busygroup") {
		return fmt.Errorf("create consumer group %s: %w", s.group, err)
	}
	return nil
}

// Start connects, creates the consumer group idempotently, runs the recovery
// sweep when enabled and at least one handler is registered, and launches the
// consume loop. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	if err := s.createGroup(ctx); err != nil {
		return err
	}
	if s.opts.EnableRecovery && s.handlerCount() > 0 {
		stats, err := s.recoverPending(ctx)
		if err != nil {
			// The loop re-reads whatever the sweep could not claim, so a
			// transport hiccup here is not fatal to startup.
			s.logger.Warn("recovery sweep incomplete", "agent_id", s.opts.AgentID, "err", err.Error())
		}
		s.logger.Info("recovery sweep finished",
			"agent_id", s.opts.AgentID,
			"recovered", stats.TotalRecovered,
			"batches", stats.Batches,
			"elapsed", stats.CompletedAt.Sub(stats.StartedAt).String())
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go func() {
		defer close(s.done)
		s.consumeLoop(loopCtx)
	}()
	s.logger.Info("mailbox started", "agent_id", s.opts.AgentID, "stream", s.stream, "group", s.group, "consumer", s.consumer)
	return nil
}

// Stop cancels the consume loop, waits for it to exit, and releases the
// connection. Only a client the service dialed itself is closed; one supplied
// through Options.Client is left open. The loop's cancellation is the expected
// outcome here and is swallowed; Stop is idempotent and safe before Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.running = false
		s.cancel()
		<-s.done
		s.cancel = nil
		s.done = nil
	}
	var err error
	if s.client != nil {
		if s.ownsClient {
			err = s.client.Close()
		}
		s.client = nil
		s.ownsClient = false
	}
	if err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	s.logger.Info("mailbox stopped", "agent_id", s.opts.AgentID)
	return nil
}
