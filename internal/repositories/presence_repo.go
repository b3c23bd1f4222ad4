package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"github.com/prudhvinik1/ussync/internal/metrics"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix     = "presence:"
	presenceChangedSuffix = ":changed"

	fieldLocation        = "location"
	fieldStatus          = "status"
	fieldStatusTimestamp = "statusTimestamp"
)

// RedisPresenceRepository keeps each document as a hash so HSET gives field-level merges.
type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) *RedisPresenceRepository {
	return &RedisPresenceRepository{client: client}
}

func (r *RedisPresenceRepository) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	fields, err := r.client.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodePresence(userID, fields)
}

// MergePresence writes the patch fields and publishes a change notification in one MULTI.
func (r *RedisPresenceRepository) MergePresence(ctx context.Context, userID string, patch models.PresencePatch) error {
	values, err := encodePatch(patch)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	changeID := ulid.Make().String()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(userID), values)
		pipe.Publish(ctx, presenceChannel(userID), changeID)
		return nil
	})
	if err != nil {
		metrics.PresenceWritesTotal.WithLabelValues("redis", "failure").Inc()
		return fmt.Errorf("failed to merge presence: %w", err)
	}

	metrics.PresenceWritesTotal.WithLabelValues("redis", "success").Inc()
	glog.V(2).Infof("[presence]merge %s change=%s fields=%d\n", userID, changeID, len(values))
	return nil
}

// Watch subscribes to the change channel and re-reads the hash on every notification.
// Every (re)subscription confirmation also triggers a read, so changes made while
// the connection was down are picked up after go-redis reconnects.
func (r *RedisPresenceRepository) Watch(ctx context.Context, userID string) (PresenceStream, error) {
	pubsub := r.client.Subscribe(ctx, presenceChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to presence: %w", err)
	}

	stream, streamCtx := NewChannelStream(ctx)
	go func() {
		defer pubsub.Close()

		if err := r.sendSnapshot(streamCtx, stream, userID); err != nil {
			stream.Finish(streamCtx, err)
			return
		}

		messages := pubsub.ChannelWithSubscriptions()
		for {
			select {
			case <-streamCtx.Done():
				stream.Finish(streamCtx, nil)
				return
			case msg, ok := <-messages:
				if !ok {
					stream.Finish(streamCtx, fmt.Errorf("presence subscription closed"))
					return
				}
				switch m := msg.(type) {
				case *redis.Subscription:
					if m.Kind != "subscribe" {
						continue
					}
					glog.V(1).Infof("[presence]resubscribed %s\n", userID)
				case *redis.Message:
					glog.V(2).Infof("[presence]change %s change=%s\n", userID, m.Payload)
				default:
					continue
				}
				if err := r.sendSnapshot(streamCtx, stream, userID); err != nil {
					stream.Finish(streamCtx, err)
					return
				}
			}
		}
	}()
	return stream, nil
}

func (r *RedisPresenceRepository) sendSnapshot(ctx context.Context, stream *ChannelStream, userID string) error {
	snap := models.PresenceSnapshot{UserID: userID}
	presence, err := r.GetPresence(ctx, userID)
	switch {
	case err == nil:
		snap.Presence = presence
	case errors.Is(err, ErrNotFound):
	default:
		glog.Warningf("[presence]read %s error = %s\n", userID, err)
		return err
	}
	if !stream.Send(ctx, snap) {
		return ctx.Err()
	}
	return nil
}

func encodePatch(patch models.PresencePatch) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	if patch.Location != nil {
		data, err := json.Marshal(patch.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal location: %w", err)
		}
		values[fieldLocation] = string(data)
	}
	if patch.Status != nil {
		values[fieldStatus] = *patch.Status
	}
	if patch.StatusTimestamp != nil {
		values[fieldStatusTimestamp] = strconv.FormatInt(*patch.StatusTimestamp, 10)
	}
	return values, nil
}

func decodePresence(userID string, fields map[string]string) (*models.UserPresence, error) {
	presence := &models.UserPresence{UserID: userID}
	if data, ok := fields[fieldLocation]; ok {
		var loc models.Location
		if err := json.Unmarshal([]byte(data), &loc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal location: %w", err)
		}
		presence.Location = &loc
	}
	if status, ok := fields[fieldStatus]; ok {
		presence.Status = &status
	}
	if ts, ok := fields[fieldStatusTimestamp]; ok {
		parsed, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid status timestamp %q: %w", ts, err)
		}
		presence.StatusTimestamp = parsed
	}
	return presence, nil
}

// Helper: build Redis keys for presence
func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

func presenceChannel(userID string) string {
	return presenceKeyPrefix + userID + presenceChangedSuffix
}
