package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bobarin/fragment/internal/models"
)

const (
	// Channel carries live job events for subscribers.
	Channel = "fragment:jobs"
	// HistoryKey is a capped list of the most recent events.
	HistoryKey = "fragment:events"

	maxHistory = 1000
)

type Type string

const (
	JobQueued    Type = "job.queued"
	JobStage     Type = "job.stage"
	JobProgress  Type = "job.progress"
	JobSucceeded Type = "job.succeeded"
	JobFailed    Type = "job.failed"
)

// Event is a job lifecycle notification. Seq increases with every committed
// change in the publishing process; order by it rather than by arrival.
type Event struct {
	Seq      uint64           `json:"seq"`
	Type     Type             `json:"type"`
	JobID    uuid.UUID        `json:"job_id"`
	Status   models.JobStatus `json:"status"`
	Stage    models.Stage     `json:"stage,omitempty"`
	Progress int              `json:"progress"`
	URL      string           `json:"url,omitempty"`
	Error    *models.JobError `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

// FromJob builds an event describing the job's current state.
func FromJob(t Type, job *models.Job) Event {
	ev := Event{
		Type:     t,
		JobID:    job.ID,
		Status:   job.Status,
		Stage:    job.Stage,
		Progress: job.Progress,
		URL:      job.OutputURL,
		At:       time.Now().UTC(),
	}
	if job.Error != nil {
		e := *job.Error
		ev.Error = &e
	}
	return ev
}

// Publisher delivers job events. Publishing is best effort; job state never
// depends on it.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// RedisPublisher fans events out on a pub/sub channel and keeps a capped history list.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, Channel, data)
	pipe.RPush(ctx, HistoryKey, data)
	pipe.LTrim(ctx, HistoryKey, -maxHistory, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest events, oldest first.
func (p *RedisPublisher) Recent(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, HistoryKey, int64(-n), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe streams live events until ctx is done. The returned channel is closed then.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := p.client.Subscribe(ctx, Channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
