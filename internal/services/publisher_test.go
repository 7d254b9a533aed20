package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"practest-backend/internal/models"
)

func TestRedisPublisher_PublishesToUserChannel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user := uuid.New()
	sub := client.Subscribe(ctx, UpdateChannel(user))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := NewRedisPublisher(client, quietLogger())
	sessionID := uuid.New()
	pub.PublishUpdate(ctx, user, models.WSMessage{
		Type:    models.EventSessionTick,
		Payload: models.SessionTick{SessionID: sessionID, RemainingSeconds: 42},
	})

	select {
	case msg := <-sub.Channel():
		var got struct {
			Type    string             `json:"type"`
			Payload models.SessionTick `json:"payload"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != models.EventSessionTick || got.Payload.RemainingSeconds != 42 || got.Payload.SessionID != sessionID {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("no message received")
	}
}

func TestRedisPublisher_SwallowsErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	pub := NewRedisPublisher(client, quietLogger())
	// Must not panic or block when redis is gone.
	pub.PublishUpdate(context.Background(), uuid.New(), models.WSMessage{Type: models.EventSessionExpired})
}
