package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/ports"
)

func TestBuildEvents(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	run := &domain.AuditRun{ID: 7, RunType: domain.RunTypeSync, Status: domain.RunStatusCompleted}

	inserted := domain.NewAction("sql01|master|login|sa|sa_account_enabled", domain.ActionRegressed, 7, 7, "Regressed", now)
	refreshed := domain.NewAction("sql01|hr|user|bob|orphaned_user", domain.ActionResolved, 7, 7, "Resolved", now)
	refreshed.UpdatedAt = now.Add(time.Minute)

	events := BuildEvents(run, []*domain.Action{inserted, refreshed})

	require.Len(t, events, 3)
	assert.Equal(t, ports.EventTypeActionRecorded, events[0].Type)
	assert.Equal(t, inserted.ID, events[0].AggregateID)
	assert.Equal(t, domain.ActionRegressed, events[0].Data["action_type"])
	assert.Equal(t, ports.EventTypeActionUpdated, events[1].Type)
	assert.Equal(t, ports.EventTypeRunCompleted, events[2].Type)
	assert.Equal(t, "7", events[2].AggregateID)
	assert.Equal(t, 2, events[2].Data["actions"])
}

func TestBuildEvents_NoRun(t *testing.T) {
	assert.Empty(t, BuildEvents(nil, nil))
}

func TestNewActionPublisher_Disabled(t *testing.T) {
	pub, err := NewActionPublisher(Config{Enabled: false}, nil)
	require.NoError(t, err)

	assert.IsType(t, NoopPublisher{}, pub)
	assert.NoError(t, pub.Publish(context.Background(), &domain.AuditRun{ID: 1}, nil))
	assert.NoError(t, pub.Close())
}

func TestRedisPublisher_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	pub := NewRedisPublisher(client, "sqlaudit.actions", time.Second, nil)
	defer pub.Close()

	err := pub.Publish(context.Background(), &domain.AuditRun{ID: 1}, nil)

	assert.ErrorContains(t, err, "run 1")
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(Config{Addr: "127.0.0.1:1", Timeout: 100 * time.Millisecond})

	assert.ErrorContains(t, err, "failed to connect to Redis")
}

func TestSubscriber_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, err := NewSubscriber(client, "sqlaudit.actions").Subscribe(context.Background())

	assert.ErrorContains(t, err, "failed to subscribe to sqlaudit.actions")
}
