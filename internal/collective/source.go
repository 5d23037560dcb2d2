package collective

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	requestStreamPrefix = "noosphere:decide:req:"
	replyStreamPrefix   = "noosphere:decide:rep:"
)

// decisionRequest is the wire form of a perspective solicitation.
type decisionRequest struct {
	ID      string            `json:"id"`
	Topic   string            `json:"topic"`
	Context map[string]string `json:"context,omitempty"`
	ReplyTo string            `json:"reply_to"`
}

// StreamSource solicits perspectives from a remote agent over Redis Streams:
// the request lands on the agent's request stream and the source blocks on a
// dedicated reply stream until the agent answers or the context expires.
type StreamSource struct {
	rdb    *redis.Client
	agent  string
	logger *zap.Logger
}

// NewStreamSource creates a source for the named remote agent.
func NewStreamSource(rdb *redis.Client, agent string, logger *zap.Logger) *StreamSource {
	return &StreamSource{rdb: rdb, agent: agent, logger: logger}
}

func (s *StreamSource) Agent() string { return s.agent }

// Perspective publishes the request and waits for the agent's reply. The
// caller's context carries the solicitation deadline.
func (s *StreamSource) Perspective(ctx context.Context, topic string, decisionCtx map[string]string) (*Perspective, error) {
	req := decisionRequest{
		ID:      uuid.NewString(),
		Topic:   topic,
		Context: decisionCtx,
		ReplyTo: replyStreamPrefix + s.agent + ":" + uuid.NewString(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: requestStreamPrefix + s.agent,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("solicit %s: %w", s.agent, err)
	}

	return s.awaitReply(ctx, req.ReplyTo)
}

func (s *StreamSource) awaitReply(ctx context.Context, stream string) (*Perspective, error) {
	defer s.rdb.Del(context.WithoutCancel(ctx), stream)

	lastID := "0"
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   1,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("await reply from %s: %w", s.agent, err)
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var p Perspective
				if err := json.Unmarshal([]byte(data), &p); err != nil {
					s.logger.Warn("malformed perspective reply",
						zap.String("agent", s.agent), zap.Error(err))
					continue
				}
				return &p, nil
			}
		}
	}
}
