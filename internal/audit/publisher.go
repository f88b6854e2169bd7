// Package audit provides asynchronous audit trail capture and processing.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
)

const (
	// StreamKey is the Redis stream for audit entries.
	StreamKey = "stream:audit_entries"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:audit_entries:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// EntryPayload is the compact entry format for the Redis stream.
type EntryPayload struct {
	EntityType  string `json:"et"`
	EntityID    string `json:"eid"`
	Action      string `json:"a"`
	Description string `json:"d"`
	ActorID     string `json:"act,omitempty"`
	IPAddress   string `json:"ip,omitempty"`
	CreatedAt   int64  `json:"t"` // Unix milliseconds
}

// Publisher enqueues audit entries to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new audit entry publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "audit.publisher"),
		metrics: recorder,
	}
}

// Publish adds an audit entry to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, payload EntryPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",  // Auto-generate ID
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// Record publishes an audit entry without blocking the caller. Errors
// are logged but not returned; a lost entry never fails the operation
// that produced it.
func (p *Publisher) Record(_ context.Context, entry *model.AuditEntry) {
	payload := PayloadFromEntry(entry)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, payload)
		if err != nil {
			p.logger.Warn("failed to publish audit entry",
				"entity_type", payload.EntityType,
				"entity_id", payload.EntityID,
				"action", payload.Action,
				"error", err,
			)
			p.metrics.IncAuditPublished("dropped")
			return
		}

		p.logger.Debug("audit entry published",
			"entity_id", payload.EntityID,
			"action", payload.Action,
			"stream_id", streamID,
		)
		p.metrics.IncAuditPublished("success")
	}()
}

// PayloadFromEntry converts a model entry into the stream payload.
func PayloadFromEntry(entry *model.AuditEntry) EntryPayload {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return EntryPayload{
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Action:      entry.Action,
		Description: entry.Description,
		ActorID:     entry.ActorID,
		IPAddress:   entry.IPAddress,
		CreatedAt:   createdAt.UnixMilli(),
	}
}
