package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaflow/internal/logging"
)

// Publisher is the subset of the Redis client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisOptions configures the Redis pub/sub sink. Zero values pick the
// defaults below.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Buffer   int

	// EnqueueTimeout bounds how long Append blocks on a full queue.
	EnqueueTimeout time.Duration
	// PublishAttempts is the number of tries per event before it is reported
	// as dropped. RetryDelay is the first backoff and doubles per try.
	PublishAttempts int
	RetryDelay      time.Duration
}

const (
	defaultRedisBuffer   = 256
	defaultEnqueueWait   = 2 * time.Second
	defaultPublishTries  = 5
	defaultPublishDelay  = 200 * time.Millisecond
	maxPublishRetryDelay = 5 * time.Second
)

// RedisSink republishes events as JSON on a Redis pub/sub channel. Publishing
// happens on a background goroutine. A full queue blocks Append for up to
// EnqueueTimeout, and failed publishes are retried with backoff.
type RedisSink struct {
	pub        Publisher
	closer     func() error
	channel    string
	logger     *slog.Logger
	enqueueTTL time.Duration
	attempts   int
	retryDelay time.Duration

	mu       sync.RWMutex
	closed   bool
	queue    chan Event
	stopping chan struct{}
	done     chan struct{}
}

// NewRedisSink dials Redis and verifies the connection.
func NewRedisSink(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisSink, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisSink(client, client.Close, opts, logger), nil
}

func newRedisSink(pub Publisher, closer func() error, opts RedisOptions, logger *slog.Logger) *RedisSink {
	channel := strings.TrimSpace(opts.Channel)
	if channel == "" {
		channel = "mediaflow.events"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultRedisBuffer
	}
	s := &RedisSink{
		pub:        pub,
		closer:     closer,
		channel:    channel,
		logger:     logging.NewComponentLogger(logger, "events.redis"),
		enqueueTTL: opts.EnqueueTimeout,
		attempts:   opts.PublishAttempts,
		retryDelay: opts.RetryDelay,
		queue:      make(chan Event, buffer),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	if s.enqueueTTL <= 0 {
		s.enqueueTTL = defaultEnqueueWait
	}
	if s.attempts <= 0 {
		s.attempts = defaultPublishTries
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultPublishDelay
	}
	go s.run()
	return s
}

// Append queues evt for publishing. When the queue is full it waits up to
// the enqueue timeout before giving up on the event.
func (s *RedisSink) Append(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- evt:
		return
	default:
	}
	timer := time.NewTimer(s.enqueueTTL)
	defer timer.Stop()
	select {
	case s.queue <- evt:
	case <-timer.C:
		logging.WarnWithContext(s.logger, "redis event queue full; dropping event", "redis_event_dropped",
			logging.Uint64("seq", evt.Sequence),
			logging.String(logging.FieldImpact, "redis subscribers miss this event; replay it from /api/events"),
			logging.String(logging.FieldErrorHint, "check redis connectivity or raise the event buffer"),
		)
	}
}

func (s *RedisSink) run() {
	defer close(s.done)
	for evt := range s.queue {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if err := s.publish(payload); err != nil {
			logging.WarnWithContext(s.logger, "redis publish failed; dropping event", "redis_publish_failed",
				logging.Error(err),
				logging.Uint64("seq", evt.Sequence),
				logging.Int("attempts", s.attempts),
				logging.String(logging.FieldErrorHint, "check redis connectivity"),
			)
		}
	}
}

func (s *RedisSink) publish(payload []byte) error {
	delay := s.retryDelay
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.pub.Publish(ctx, s.channel, payload).Err()
		cancel()
		if err == nil {
			return nil
		}
		if attempt == s.attempts {
			break
		}
		s.logger.Debug("redis publish retry",
			logging.Error(err),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-s.stopping:
			return err
		}
		delay = min(delay*2, maxPublishRetryDelay)
	}
	return err
}

// Close drains queued events and closes the client. Queued events get a
// single publish attempt once Close has been called.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopping)
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
