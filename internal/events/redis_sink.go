// internal/events/redis_sink.go
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel events are forwarded to.
const DefaultChannel = "autosell:events"

// envelope is the JSON shape published to Redis.
type envelope struct {
	Type    EventType `json:"type"`
	Time    int64     `json:"time_unix_ms"`
	Payload Event     `json:"payload"`
}

// RedisSink forwards bus events to a Redis pub/sub channel for downstream
// consumers (notifiers, dashboards).
type RedisSink struct {
	rdb     redis.UniversalClient
	channel string
	logger  *zap.Logger
}

func NewRedisSink(rdb redis.UniversalClient, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("redis_sink"),
	}
}

// Attach subscribes the sink to every event on bus.
func (s *RedisSink) Attach(bus *Bus) Subscription {
	return bus.Subscribe(AllEvents, s)
}

// Handle implements Handler.
func (s *RedisSink) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(envelope{
		Type:    event.Type(),
		Time:    event.Timestamp().UnixMilli(),
		Payload: event,
	})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type(), err)
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", s.channel, err)
	}
	s.logger.Debug("event forwarded", zap.String("event_type", string(event.Type())))
	return nil
}
