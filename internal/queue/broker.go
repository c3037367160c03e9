// Package queue is the broker adapter: a Redis Streams consumer group that
// delivers audit tasks one at a time with at-least-once semantics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	infraredis "github.com/jonesrussell/site-auditor/infrastructure/redis"
)

const (
	defaultGroup         = "audit-workers"
	defaultBlockTimeout  = 5 * time.Second
	defaultClaimMinIdle  = 5 * time.Minute
	defaultClaimInterval = 30 * time.Second
	defaultMaxLen        = 10000
	readErrorBackoff     = time.Second
	maxPendingCheck      = 100

	// Disposition labels reported to the Recorder.
	DispositionAcked     = "acked"
	DispositionDiscarded = "discarded"
	DispositionPending   = "left_pending"
)

// Config configures the consumer group membership.
type Config struct {
	Group        string
	ConsumerID   string
	BlockTimeout time.Duration
	// ClaimMinIdle is how long an entry must sit unacknowledged with another
	// consumer before it is reclaimed.
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
	MaxLen        int64
}

// Recorder observes broker activity.
type Recorder interface {
	MessageSettled(queue, disposition string)
	ConsumerPaused(queue string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) MessageSettled(string, string)        {}
func (nopRecorder) ConsumerPaused(string, time.Duration) {}

// Broker publishes and consumes tasks. Only one message is ever in flight
// per Broker.
type Broker struct {
	client   *redis.Client
	cfg      Config
	logger   infralogger.Logger
	recorder Recorder
}

// Option customizes a Broker.
type Option func(*Broker)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Broker) {
		if r != nil {
			b.recorder = r
		}
	}
}

// Connect dials Redis and returns a ready Broker. A failure here is fatal
// to callers: the pipeline cannot run without its broker.
func Connect(ctx context.Context, redisCfg infraredis.Config, cfg Config, log infralogger.Logger, opts ...Option) (*Broker, error) {
	log.Info("Connecting to broker", infralogger.String("state", "connecting"))
	client, err := infraredis.NewClient(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	b := New(client, cfg, log, opts...)
	log.Info("Broker connected",
		infralogger.String("state", "connected"),
		infralogger.String("consumer_id", b.cfg.ConsumerID),
		infralogger.String("group", b.cfg.Group),
	)
	return b, nil
}

// New wraps an existing client.
func New(client *redis.Client, cfg Config, log infralogger.Logger, opts ...Option) *Broker {
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = defaultConsumerID()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = defaultClaimInterval
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultMaxLen
	}

	b := &Broker{client: client, cfg: cfg, logger: log, recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Publish enqueues one task.
func (b *Broker) Publish(ctx context.Context, queue string, task any) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{
			TaskField:       string(payload),
			EnqueuedAtField: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", queue, err)
	}
	return id, nil
}

// Consume delivers messages from queue to handler until ctx is done. It
// first redelivers this consumer's own unacknowledged entries, then reads
// new ones, periodically reclaiming entries stranded on dead consumers.
func (b *Broker) Consume(ctx context.Context, queue string, handler Handler) error {
	if err := b.ensureGroup(ctx, queue); err != nil {
		return err
	}
	log := b.logger.With(infralogger.String("queue", queue), infralogger.String("consumer_id", b.cfg.ConsumerID))
	log.Info("Consuming", infralogger.String("state", "consuming"))

	if err := b.drainOwnPending(ctx, queue, handler); err != nil {
		return err
	}

	var lastClaim time.Time
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= b.cfg.ClaimInterval {
			lastClaim = time.Now()
			b.reclaimStale(ctx, queue, handler)
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.ConsumerID,
			Streams:  []string{queue, ">"},
			Count:    1,
			Block:    b.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			if isNoGroup(err) {
				if groupErr := b.ensureGroup(ctx, queue); groupErr != nil {
					return groupErr
				}
				continue
			}
			log.Warn("Read from stream failed", infralogger.Error(err))
			sleep(ctx, readErrorBackoff)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.process(ctx, queue, msg, false, handler)
			}
		}
	}

	log.Info("Consumer stopped", infralogger.String("state", "stopped"))
	return nil
}

// drainOwnPending replays entries delivered to this consumer ID but never
// settled, e.g. after a dropped connection.
func (b *Broker) drainOwnPending(ctx context.Context, queue string, handler Handler) error {
	start := "0"
	for ctx.Err() == nil {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.ConsumerID,
			Streams:  []string{queue, start},
			Count:    1,
			Block:    -1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read pending entries: %w", err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return nil
		}
		msg := streams[0].Messages[0]
		start = msg.ID
		b.process(ctx, queue, msg, true, handler)
	}
	return nil
}

// reclaimStale claims entries idle longer than ClaimMinIdle on any consumer
// and processes them one at a time.
func (b *Broker) reclaimStale(ctx context.Context, queue string, handler Handler) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: queue,
		Group:  b.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			b.logger.Warn("List pending entries failed", infralogger.String("queue", queue), infralogger.Error(err))
		}
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil || entry.Consumer == b.cfg.ConsumerID || entry.Idle < b.cfg.ClaimMinIdle {
			continue
		}
		claimed, claimErr := b.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   queue,
			Group:    b.cfg.Group,
			Consumer: b.cfg.ConsumerID,
			MinIdle:  b.cfg.ClaimMinIdle,
			Messages: []string{entry.ID},
		}).Result()
		if claimErr != nil {
			b.logger.Warn("Claim stale entry failed",
				infralogger.String("queue", queue),
				infralogger.String("message_id", entry.ID),
				infralogger.Error(claimErr),
			)
			continue
		}
		for _, msg := range claimed {
			b.logger.Info("Reclaimed stale entry",
				infralogger.String("queue", queue),
				infralogger.String("message_id", msg.ID),
				infralogger.String("previous_consumer", entry.Consumer),
			)
			b.process(ctx, queue, msg, true, handler)
		}
	}
}

func (b *Broker) process(ctx context.Context, queue string, msg redis.XMessage, redelivered bool, handler Handler) {
	log := b.logger.With(infralogger.String("queue", queue), infralogger.String("message_id", msg.ID))

	d, err := parseDelivery(queue, msg, redelivered)
	if err != nil {
		b.discard(ctx, log, queue, msg.ID, err)
		return
	}

	outcome := handler(ctx, d)

	if ctx.Err() != nil {
		log.Warn("Shutdown during task, leaving message pending")
		b.recorder.MessageSettled(queue, DispositionPending)
		return
	}

	if outcome.Err != nil {
		b.discard(ctx, log, queue, msg.ID, outcome.Err)
	} else {
		b.ack(ctx, log, queue, msg.ID)
	}

	if outcome.PauseFor > 0 {
		log.Warn("Pausing consumption",
			infralogger.String("state", "paused"),
			infralogger.Duration("pause", outcome.PauseFor),
		)
		b.recorder.ConsumerPaused(queue, outcome.PauseFor)
		sleep(ctx, outcome.PauseFor)
		if ctx.Err() == nil {
			log.Info("Resuming consumption", infralogger.String("state", "consuming"))
		}
	}
}

func (b *Broker) ack(ctx context.Context, log infralogger.Logger, queue, id string) {
	if err := b.settle(ctx, queue, id); err != nil {
		log.Error("Acknowledge failed", infralogger.Error(err))
		return
	}
	b.recorder.MessageSettled(queue, DispositionAcked)
}

// discard settles a failed message without requeue.
func (b *Broker) discard(ctx context.Context, log infralogger.Logger, queue, id string, cause error) {
	log.Warn("Discarding message", infralogger.Error(cause))
	if err := b.settle(ctx, queue, id); err != nil {
		log.Error("Discard failed", infralogger.Error(err))
		return
	}
	b.recorder.MessageSettled(queue, DispositionDiscarded)
}

// settle removes an entry from the group's pending list and the stream.
func (b *Broker) settle(ctx context.Context, queue, id string) error {
	pipe := b.client.TxPipeline()
	pipe.XAck(ctx, queue, b.cfg.Group, id)
	pipe.XDel(ctx, queue, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle %s: %w", id, err)
	}
	return nil
}

func (b *Broker) ensureGroup(ctx context.Context, queue string) error {
	err := b.client.XGroupCreateMkStream(ctx, queue, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", b.cfg.Group, queue, err)
	}
	b.logger.Debug("Consumer group ready",
		infralogger.String("state", "group_ensured"),
		infralogger.String("queue", queue),
		infralogger.String("group", b.cfg.Group),
	)
	return nil
}

// Depth returns the number of entries in queue.
func (b *Broker) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := b.client.XLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth %s: %w", queue, err)
	}
	return n, nil
}

// Ping checks the broker connection.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the connection immediately.
func (b *Broker) Close() error {
	b.logger.Info("Broker connection closed", infralogger.String("state", "closed"))
	return b.client.Close()
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
