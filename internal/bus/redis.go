package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

// RedisBus publishes to and subscribes from Redis Streams, one stream per topic
type RedisBus struct {
	client    redis.UniversalClient
	maxLen    int64
	ownClient bool
	logger    zerolog.Logger
}

// RedisConfig configures a RedisBus
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// MaxLen trims streams approximately; 0 keeps everything.
	MaxLen int64
}

// NewRedisBus connects to Redis and checks the connection
func NewRedisBus(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis bus: %w", err)
	}
	b := NewRedisBusWithClient(client, cfg.MaxLen, logger)
	b.ownClient = true
	return b, nil
}

// NewRedisBusWithClient wraps an existing client; Close leaves it open.
func NewRedisBusWithClient(client redis.UniversalClient, maxLen int64, logger zerolog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		maxLen: maxLen,
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Client returns the underlying client
func (b *RedisBus) Client() redis.UniversalClient {
	return b.client
}

// Publish appends one record to the topic stream
func (b *RedisBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{fieldKey: key, fieldPayload: payload},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Ping checks the connection
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client if the bus created it
func (b *RedisBus) Close() error {
	if !b.ownClient {
		return nil
	}
	return b.client.Close()
}

// SubscribeConfig selects what a subscription reads
type SubscribeConfig struct {
	Topic    string
	Group    string
	Consumer string
	// Count bounds the messages returned by one Fetch.
	Count int64
	// Block bounds how long Fetch waits for new messages.
	Block time.Duration
}

// Subscription reads a topic as one member of a consumer group
type Subscription struct {
	client  redis.UniversalClient
	cfg     SubscribeConfig
	pending bool
	logger  zerolog.Logger
}

// Subscribe joins the consumer group, creating the group and stream if needed.
// The first fetches replay this consumer's unacknowledged messages.
func (b *RedisBus) Subscribe(ctx context.Context, cfg SubscribeConfig) (*Subscription, error) {
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	err := b.client.XGroupCreateMkStream(ctx, cfg.Topic, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create group %s on %s: %w", cfg.Group, cfg.Topic, err)
	}
	return &Subscription{
		client:  b.client,
		cfg:     cfg,
		pending: true,
		logger: b.logger.With().
			Str("topic", cfg.Topic).
			Str("group", cfg.Group).
			Str("consumer", cfg.Consumer).
			Logger(),
	}, nil
}

// Fetch returns the next messages
func (s *Subscription) Fetch(ctx context.Context) ([]Message, error) {
	id := ">"
	block := s.cfg.Block
	if s.pending {
		id = "0"
		block = -1
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Topic, id},
		Count:    s.cfg.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		s.donePending()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.cfg.Topic, err)
	}

	var msgs []Message
	for _, stream := range streams {
		for _, m := range stream.Messages {
			msgs = append(msgs, Message{
				Topic:   stream.Stream,
				ID:      m.ID,
				Key:     stringValue(m.Values[fieldKey]),
				Payload: []byte(stringValue(m.Values[fieldPayload])),
			})
		}
	}
	if len(msgs) == 0 {
		s.donePending()
	}
	return msgs, nil
}

func (s *Subscription) donePending() {
	if s.pending {
		s.pending = false
		s.logger.Debug().Msg("pending entries replayed")
	}
}

// Commit acknowledges messages so they are not delivered again
func (s *Subscription) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := s.client.XAck(ctx, s.cfg.Topic, s.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to commit %d messages on %s: %w", len(ids), s.cfg.Topic, err)
	}
	return nil
}

func stringValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
