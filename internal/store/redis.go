package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/domain"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// UpdateLiveState mirrors one vehicle's state snapshot for dashboards: a
// hash with the latest fields, a geo index entry, and a pub/sub fanout.
func (r *RedisStore) UpdateLiveState(ctx context.Context, st domain.VehicleState) error {
	stateData := map[string]interface{}{
		"vehicle_id":    st.VehicleID,
		"lat":           st.LastLatitude,
		"lng":           st.LastLongitude,
		"speed_kmh":     st.LastSpeedKmh,
		"compliance":    string(st.ComplianceStatus),
		"active_alerts": len(st.ActiveAlerts),
		"timestamp":     st.LastTimestamp.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := fmt.Sprintf("vehicle:%s:state", st.VehicleID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, 30*time.Second)
	pipe.GeoAdd(ctx, "vehicles:geo", &redis.GeoLocation{
		Name:      st.VehicleID,
		Longitude: st.LastLongitude,
		Latitude:  st.LastLatitude,
	})
	pipe.Publish(ctx, "vehicles:telemetry", pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("vehicle:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) CheckAlertDedup(ctx context.Context, vehicleID string, kind domain.AlertKind) (bool, error) {
	key := fmt.Sprintf("alert:%s:%s", vehicleID, string(kind))
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SetAlertDedup(ctx context.Context, vehicleID string, kind domain.AlertKind) error {
	key := fmt.Sprintf("alert:%s:%s", vehicleID, string(kind))
	return r.client.Set(ctx, key, "1", 5*time.Minute).Err()
}

func (r *RedisStore) PublishAlert(ctx context.Context, alert domain.AlertEvent) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	channel := fmt.Sprintf("vehicle:%s:alerts", alert.VehicleID)
	return r.client.Publish(ctx, channel, payload).Err()
}
