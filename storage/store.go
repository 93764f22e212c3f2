package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"staysync/models"
)

// Store is the persistence contract shared by the SQLite and Postgres
// backends. Every write is an upsert keyed by an externally-stable
// identifier, so concurrent writers (scheduled syncs and webhook-triggered
// scoped syncs) are commutative. The two check-then-act hot spots, the event
// log and the snapshot ledger, are guarded by uniqueness constraints rather
// than application locks.
type Store interface {
	Close() error

	// Users. The default owner is the earliest-created elevated user; nil
	// when none exists.
	GetDefaultOwner(ctx context.Context) (*models.User, error)

	// Properties.
	GetPropertyByListingID(ctx context.Context, externalListingID string) (*models.Property, error)
	ListProperties(ctx context.Context) ([]models.Property, error)
	UpsertProperty(ctx context.Context, p *models.Property) error
	TouchPropertySync(ctx context.Context, id uuid.UUID, t time.Time) error

	// Listing snapshots (append-only).
	LatestSnapshot(ctx context.Context, propertyID uuid.UUID) (*models.ListingSnapshot, error)
	CreateSnapshot(ctx context.Context, snap *models.ListingSnapshot) error

	// Guests.
	GetGuestByExternalID(ctx context.Context, externalGuestID string) (*models.Guest, error)
	GetGuestByEmail(ctx context.Context, email string) (*models.Guest, error)
	UpsertGuest(ctx context.Context, g *models.Guest) error

	// Reservations.
	GetReservationByExternalID(ctx context.Context, externalReservationID string) (*models.Reservation, error)
	UpsertReservation(ctx context.Context, r *models.Reservation) error

	// Message threads and messages. InsertMessageIfAbsent reports whether a
	// row was created; an existing message is never modified.
	GetThreadByExternalID(ctx context.Context, externalThreadID string) (*models.MessageThread, error)
	UpsertThread(ctx context.Context, th *models.MessageThread) error
	InsertMessageIfAbsent(ctx context.Context, m *models.Message) (bool, error)
	SetThreadLastMessage(ctx context.Context, threadID uuid.UUID, t time.Time) error

	// Event log. RecordEvent reports whether the event was new; a duplicate
	// (source, external id) pair inserts nothing.
	RecordEvent(ctx context.Context, source, externalID, eventType string, payload json.RawMessage) (bool, error)
	HasEvent(ctx context.Context, source, externalID string) (bool, error)

	// Sync bookkeeping. RecordHealthFailure returns the consecutive failure
	// count after the increment.
	UpsertCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error
	RecordHealthSuccess(ctx context.Context, name string, metadata json.RawMessage) error
	RecordHealthFailure(ctx context.Context, name, errMsg string) (int, error)
	GetIntegrationHealth(ctx context.Context, name string) (*models.IntegrationHealth, error)

	// Webhook registrations.
	GetWebhookRegistration(ctx context.Context, topic string) (*models.WebhookRegistration, error)
	UpsertWebhookRegistration(ctx context.Context, reg *models.WebhookRegistration) error

	// Command channel (portal -> daemon).
	PendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error

	// Photo mirror queue.
	EnqueuePhoto(ctx context.Context, propertyID uuid.UUID, url string) error
	PendingPhotos(ctx context.Context, limit int) ([]models.PhotoMirror, error)
	MarkPhotoMirrored(ctx context.Context, url, s3Key, contentHash string, sizeBytes int64) error
	MarkPhotoFailed(ctx context.Context, url string) error
}
