package models

import (
	"encoding/json"
	"time"
)

type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthError   HealthStatus = "error"
)

// SyncCheckpoint tracks the last completed pass for an (integration, entity)
// pair. Observability only; every cycle is a full re-scan, not a resume.
type SyncCheckpoint struct {
	Integration string    `json:"integration" db:"integration"`
	EntityType  string    `json:"entity_type" db:"entity_type"`
	TotalSynced int       `json:"total_synced" db:"total_synced"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// IntegrationHealth is one row per sync routine, updated by the scheduler
// after every tick.
type IntegrationHealth struct {
	Name                string          `json:"name" db:"name"`
	Status              HealthStatus    `json:"status" db:"status"`
	LastSuccessAt       *time.Time      `json:"last_success_at" db:"last_success_at"`
	LastFailureAt       *time.Time      `json:"last_failure_at" db:"last_failure_at"`
	ConsecutiveFailures int             `json:"consecutive_failures" db:"consecutive_failures"`
	LastError           string          `json:"last_error" db:"last_error"`
	Metadata            json.RawMessage `json:"metadata" db:"metadata"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// WebhookRegistration records a subscription we hold upstream, one row per
// notification topic, so registration can be re-run idempotently.
type WebhookRegistration struct {
	Topic        string    `json:"topic" db:"topic"`
	CallbackURL  string    `json:"callback_url" db:"callback_url"`
	UpstreamID   string    `json:"upstream_id" db:"upstream_id"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// EventLog is the shared idempotency ledger: webhook message ids and review
// events land here, deduplicated by a uniqueness constraint on
// (source, external_id) so check-then-act races collapse into one insert.
type EventLog struct {
	ID         int64           `json:"id" db:"id"`
	Source     string          `json:"source" db:"source"`
	ExternalID string          `json:"external_id" db:"external_id"`
	EventType  string          `json:"event_type" db:"event_type"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	ReceivedAt time.Time       `json:"received_at" db:"received_at"`
}

// Event log sources.
const (
	EventSourceWebhook = "webhook"
	EventSourceReview  = "review"
)

// ScopedEventSource qualifies an event source with its integration. Upstream
// ids are only unique within one provider, so the ledger key must carry the
// integration or two providers could suppress each other's events.
func ScopedEventSource(source, integration string) string {
	return source + ":" + integration
}
