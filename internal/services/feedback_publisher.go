package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/models"
)

// FeedbackChannel is the Redis pub/sub channel carrying the feedback of one
// recording or playback session.
func FeedbackChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("playback_updates:%s", sessionID.String())
}

// RedisFeedbackPublisher forwards feedback events to Redis so every API
// instance can stream them to websocket subscribers.
type RedisFeedbackPublisher struct {
	redis *redis.Client
	log   *zap.Logger
}

var _ lesson.FeedbackSink = (*RedisFeedbackPublisher)(nil)

func NewRedisFeedbackPublisher(client *redis.Client, logger *zap.Logger) *RedisFeedbackPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeedbackPublisher{redis: client, log: logger}
}

// Emit publishes fb. Publish failures are logged and otherwise ignored.
func (p *RedisFeedbackPublisher) Emit(ctx context.Context, fb models.Feedback) {
	data, err := json.Marshal(models.WSMessage{Type: string(fb.Kind), Payload: fb})
	if err != nil {
		p.log.Error("failed to encode feedback", zap.Error(err))
		return
	}
	// The emitting request may already be finished.
	if err := p.redis.Publish(context.WithoutCancel(ctx), FeedbackChannel(fb.SessionID), string(data)).Err(); err != nil {
		p.log.Warn("failed to publish feedback",
			zap.String("session_id", fb.SessionID.String()),
			zap.String("kind", string(fb.Kind)),
			zap.Error(err))
	}
}
