package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"practest-backend/internal/models"
)

// UpdateChannel is the pub/sub channel carrying a user's live updates.
func UpdateChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

// RedisPublisher fans session events out to every instance's websocket hub.
// Delivery is best effort.
type RedisPublisher struct {
	redis *redis.Client
	log   logrus.FieldLogger
}

func NewRedisPublisher(redisClient *redis.Client, log logrus.FieldLogger) *RedisPublisher {
	return &RedisPublisher{redis: redisClient, log: log.WithField("component", "publisher")}
}

func (p *RedisPublisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.WithError(err).WithField("type", msg.Type).Warn("Failed to encode update")
		return
	}
	if err := p.redis.Publish(ctx, UpdateChannel(userID), data).Err(); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"type":    msg.Type,
		}).Warn("Failed to publish update")
	}
}
