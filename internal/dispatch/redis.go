package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cinderfn/cinder/internal/alloc"
)

const (
	// DefaultQueueKey is the list the intake blocks on.
	DefaultQueueKey = "cinder:allocations"

	// envelopeVersion guards the queue wire format.
	envelopeVersion = 1

	popTimeout = 5 * time.Second
)

// Envelope is the versioned queue record wrapping one allocation.
type Envelope struct {
	Version    int              `json:"version"`
	Allocation alloc.Allocation `json:"allocation"`
}

// EncodeEnvelope produces the queue wire form of one allocation.
func EncodeEnvelope(a alloc.Allocation) ([]byte, error) {
	data, err := json.Marshal(Envelope{Version: envelopeVersion, Allocation: a})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a queue record, rejecting unknown versions.
func DecodeEnvelope(data []byte) (alloc.Allocation, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return alloc.Allocation{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return alloc.Allocation{}, fmt.Errorf("decode envelope: unsupported version %d", env.Version)
	}
	return env.Allocation, nil
}

// RedisIntake feeds the dispatcher from a redis list so separate
// processes can submit allocations.
type RedisIntake struct {
	client     *redis.Client
	dispatcher *Dispatcher
	queueKey   string
	log        *slog.Logger
}

func NewRedisIntake(client *redis.Client, d *Dispatcher, queueKey string, log *slog.Logger) *RedisIntake {
	if queueKey == "" {
		queueKey = DefaultQueueKey
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisIntake{client: client, dispatcher: d, queueKey: queueKey, log: log}
}

// Enqueue pushes one allocation onto the intake queue. Used by the
// submit path of a process that is not running workers itself.
func (ri *RedisIntake) Enqueue(ctx context.Context, a alloc.Allocation) error {
	data, err := EncodeEnvelope(a)
	if err != nil {
		return err
	}
	if err := ri.client.LPush(ctx, ri.queueKey, string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue allocation: %w", err)
	}
	return nil
}

// Run blocks on the queue and submits every well-formed allocation it
// pops until the context is cancelled. Malformed records are logged
// and dropped; they would never become runnable.
func (ri *RedisIntake) Run(ctx context.Context) error {
	ri.log.Info("redis intake started", "queue", ri.queueKey)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := ri.client.BRPop(ctx, popTimeout, ri.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // timeout, queue empty
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			ri.log.Error("queue read failed", "error", err)
			continue
		}

		// result[0] is the queue key, result[1] the record.
		a, err := DecodeEnvelope([]byte(result[1]))
		if err != nil {
			ri.log.Error("dropped malformed queue record", "error", err)
			continue
		}
		if _, err := ri.dispatcher.Submit(ctx, a); err != nil {
			ri.log.Error("queue submission rejected",
				"allocation_id", a.ID, "error", err)
		}
	}
}
