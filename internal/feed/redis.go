package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ideaboard/api/internal/apperr"
)

const redisChannelPrefix = "ideaboard:feed:"

// RedisFeed fans changes out across API instances with Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisFeed connects to redisURL and verifies the connection.
func NewRedisFeed(redisURL string, logger *slog.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisFeedWithClient(client, logger), nil
}

// NewRedisFeedWithClient wraps an existing client.
func NewRedisFeedWithClient(client *redis.Client, logger *slog.Logger) *RedisFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFeed{client: client, prefix: redisChannelPrefix, logger: logger}
}

func (f *RedisFeed) channel(scope string) string {
	return f.prefix + scope
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(change.Scope), payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w: %w", apperr.ErrTransient, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published after it returns is missed.
func (f *RedisFeed) Subscribe(ctx context.Context, scope string) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.channel(scope))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w: %w", scope, apperr.ErrTransient, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Change),
		done:   make(chan struct{}),
		logger: f.logger,
	}
	go sub.run()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Change
	done   chan struct{}
	once   sync.Once
	err    error
	logger *slog.Logger
}

func (s *redisSubscription) Changes() <-chan Change {
	return s.out
}

func (s *redisSubscription) run() {
	defer close(s.out)
	for {
		msg, err := s.pubsub.ReceiveMessage(context.Background())
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("feed: redis subscription lost", "error", err)
			}
			return
		}
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			s.logger.Warn("feed: dropping undecodable change", "channel", msg.Channel, "error", err)
			continue
		}
		select {
		case s.out <- change:
		case <-s.done:
			return
		}
	}
}

// Close unsubscribes and releases the connection. Safe to call more than once.
func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}

func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
