// Package events publishes committed actions so other subsystems can follow
// the action history without writing to it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/infra/logger"
	"github.com/fixora/sqlaudit/internal/ports"
)

// Config configures the Redis publisher
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
	Channel  string
}

// redisPublisher implements ports.ActionPublisher over Redis pub/sub
type redisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  logger.Logger
}

// NewActionPublisher connects to Redis, or returns a no-op publisher when the
// feed is disabled.
func NewActionPublisher(config Config, log logger.Logger) (ports.ActionPublisher, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if !config.Enabled {
		log.Info(context.Background(), "Action event feed disabled", nil)
		return NoopPublisher{}, nil
	}

	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}

	log.Info(context.Background(), "Action event feed initialized", map[string]interface{}{
		"addr":    config.Addr,
		"channel": config.Channel,
	})

	return NewRedisPublisher(client, config.Channel, config.Timeout, log), nil
}

// NewClient opens a Redis client and checks it answers within the timeout
func NewClient(config Config) (*redis.Client, error) {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisPublisher wraps an existing client
func NewRedisPublisher(client *redis.Client, channel string, timeout time.Duration, log logger.Logger) ports.ActionPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &redisPublisher{client: client, channel: channel, timeout: timeout, logger: log}
}

// Publish sends one event per action followed by a run summary, in a single
// pipeline.
func (p *redisPublisher) Publish(ctx context.Context, run *domain.AuditRun, actions []*domain.Action) error {
	events := BuildEvents(run, actions)
	if len(events) == 0 {
		return nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	pipeline := p.client.Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", e.Type, err)
		}
		pipeline.Publish(ctx, p.channel, payload)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish actions of run %d: %w", run.ID, err)
	}

	p.logger.Debug(ctx, "Actions published", map[string]interface{}{
		"run_id":  run.ID,
		"events":  len(events),
		"channel": p.channel,
	})
	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}

// BuildEvents renders the events for a committed run. Actions created in this
// run are "recorded"; refreshed ones are "updated".
func BuildEvents(run *domain.AuditRun, actions []*domain.Action) []*ports.Event {
	if run == nil {
		return nil
	}

	events := make([]*ports.Event, 0, len(actions)+1)
	for _, a := range actions {
		eventType := ports.EventTypeActionRecorded
		if a.UpdatedAt.After(a.CreatedAt) {
			eventType = ports.EventTypeActionUpdated
		}
		events = append(events, ports.NewEvent(eventType, "action", a.ID, map[string]interface{}{
			"entity_key":     a.EntityKey,
			"action_type":    a.ActionType,
			"initial_run_id": a.InitialRunID,
			"sync_run_id":    a.SyncRunID,
			"prior_status":   a.PriorStatus,
			"new_status":     a.NewStatus,
			"risk_level":     a.RiskLevel,
			"description":    a.Description,
		}, 1))
	}

	events = append(events, ports.NewEvent(ports.EventTypeRunCompleted, "audit_run", fmt.Sprint(run.ID), map[string]interface{}{
		"run_type": run.RunType,
		"status":   run.Status,
		"actions":  len(actions),
	}, 1))
	return events
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *domain.AuditRun, []*domain.Action) error { return nil }

func (NoopPublisher) Close() error { return nil }
