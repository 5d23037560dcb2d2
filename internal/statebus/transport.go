package statebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix  = "noosphere:state:"
	inboundStream = streamPrefix + "inbound"
)

// StateUpdate is the wire form of a fan-out notification.
type StateUpdate struct {
	Agent     string    `json:"agent"`
	Global    Snapshot  `json:"global"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamNotifier delivers global snapshots over per-agent Redis Streams.
type StreamNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewStreamNotifier connects to Redis and verifies the connection.
func NewStreamNotifier(redisURL string, logger *zap.Logger) (*StreamNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &StreamNotifier{rdb: rdb, logger: logger}, nil
}

// Notify appends the merged global snapshot to the agent's stream.
func (n *StreamNotifier) Notify(ctx context.Context, agent string, global Snapshot) error {
	data, err := json.Marshal(StateUpdate{
		Agent:     agent,
		Global:    global,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	stream := streamPrefix + agent
	_, err = n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("notify %s: %w", stream, err)
	}

	n.logger.Debug("state update published", zap.String("agent", agent))
	return nil
}

// Subscribe listens for state updates on an agent's stream. Returns a
// channel that emits updates. Cancel the context to stop.
func (n *StreamNotifier) Subscribe(ctx context.Context, agent string) <-chan *StateUpdate {
	ch := make(chan *StateUpdate, 16)
	stream := streamPrefix + agent

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := n.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					n.logger.Warn("state stream read failed",
						zap.String("stream", stream), zap.Error(err))
					// Back off so an unreachable Redis does not spin the loop.
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var su StateUpdate
					if json.Unmarshal([]byte(data), &su) == nil {
						ch <- &su
					}
				}
			}
		}
	}()

	return ch
}

// InboundDelta is the wire form of an agent-submitted state update on the
// shared inbound stream.
type InboundDelta struct {
	Source string `json:"source"`
	Delta  Delta  `json:"delta"`
}

// PublishDelta appends a state update to the shared inbound stream, to be
// propagated on the next scheduler tick.
func (n *StreamNotifier) PublishDelta(ctx context.Context, source string, delta Delta) error {
	data, err := json.Marshal(InboundDelta{Source: source, Delta: delta})
	if err != nil {
		return err
	}
	_, err = n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: inboundStream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish delta from %s: %w", source, err)
	}
	return nil
}

// ListenInbound reads agent-submitted deltas off the shared inbound stream
// and hands each to push. Blocks until the context is cancelled; run it in
// its own goroutine.
func (n *StreamNotifier) ListenInbound(ctx context.Context, push func(source string, delta Delta)) {
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := n.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{inboundStream, lastID},
			Count:   10,
			Block:   time.Second * 2,
		}).Result()

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if !errors.Is(err, redis.Nil) {
				n.logger.Warn("inbound stream read failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var in InboundDelta
				if err := json.Unmarshal([]byte(data), &in); err != nil {
					n.logger.Warn("malformed inbound delta", zap.Error(err))
					continue
				}
				push(in.Source, in.Delta)
			}
		}
	}
}

// Client exposes the underlying Redis connection for collaborators that
// share it, such as decision perspective sources.
func (n *StreamNotifier) Client() *redis.Client {
	return n.rdb
}

// Close shuts down the Redis connection.
func (n *StreamNotifier) Close() error {
	return n.rdb.Close()
}
