// Package storage provides optional durable mirrors for alerts and session
// activity. The in-memory stores stay authoritative; mirrors are best-effort
// and never block the screening path.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/teamsquare/sentinelle/pkg/security"
)

const (
	alertsKey       = "sentinelle:alerts"
	sessionsKeyPfx  = "sentinelle:session:"
	stateKey        = "sentinelle:state"
	alertsChannel   = "sentinelle:alerts:feed"
	mirroredHistory = 1000
)

// RedisMirror pushes alerts, sessions, and system state into Redis so
// dashboards survive process restarts.
type RedisMirror struct {
	client *redis.Client
	log    *logrus.Logger
}

// NewRedisMirror connects and verifies the connection with a ping.
func NewRedisMirror(addr, password string, db int, log *logrus.Logger) (*RedisMirror, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisMirror{client: client, log: log}, nil
}

// StoreAlert appends an alert to the mirrored history (a timestamp-scored
// sorted set, trimmed to a fixed window) and publishes it on the live feed.
func (m *RedisMirror) StoreAlert(ctx context.Context, alert security.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.ZAdd(ctx, alertsKey, redis.Z{
		Score:  float64(alert.Timestamp.UnixNano()),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(ctx, alertsKey, 0, -int64(mirroredHistory)-1)
	pipe.Publish(ctx, alertsChannel, string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror alert: %w", err)
	}
	return nil
}

// RecentAlerts returns mirrored alerts newer than the cutoff, oldest first.
func (m *RedisMirror) RecentAlerts(ctx context.Context, since time.Time) ([]security.Alert, error) {
	raw, err := m.client.ZRangeByScore(ctx, alertsKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read mirrored alerts: %w", err)
	}

	alerts := make([]security.Alert, 0, len(raw))
	for _, item := range raw {
		var a security.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// StoreSession mirrors one session's counters into a hash.
func (m *RedisMirror) StoreSession(ctx context.Context, s security.SessionActivity) error {
	key := sessionsKeyPfx + s.SessionID
	err := m.client.HSet(ctx, key, map[string]any{
		"messages_count": s.MessagesCount,
		"first_activity": s.FirstActivity.Format(time.RFC3339Nano),
		"last_activity":  s.LastActivity.Format(time.RFC3339Nano),
		"threat_score":   s.ThreatScore,
		"blocked":        s.Blocked,
	}).Err()
	if err != nil {
		return fmt.Errorf("mirror session %s: %w", s.SessionID, err)
	}
	return nil
}

// StoreState mirrors the system state snapshot.
func (m *RedisMirror) StoreState(ctx context.Context, st security.SystemState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := m.client.Set(ctx, stateKey, string(data), 0).Err(); err != nil {
		return fmt.Errorf("mirror state: %w", err)
	}
	return nil
}

// Reset clears everything this mirror owns.
func (m *RedisMirror) Reset(ctx context.Context) error {
	keys, err := m.client.Keys(ctx, "sentinelle:*").Result()
	if err != nil {
		return fmt.Errorf("list mirror keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
