package models

import (
	"time"

	"github.com/google/uuid"
)

type PhotoStatus string

const (
	PhotoPending  PhotoStatus = "pending"
	PhotoMirrored PhotoStatus = "mirrored"
	PhotoFailed   PhotoStatus = "failed"
)

// PhotoMirror queues a listing photo for download and upload to object
// storage. Keyed by source URL so re-enqueueing the same photo is a no-op.
type PhotoMirror struct {
	URL         string      `json:"url" db:"url"`
	PropertyID  uuid.UUID   `json:"property_id" db:"property_id"`
	Status      PhotoStatus `json:"status" db:"status"`
	S3Key       string      `json:"s3_key" db:"s3_key"`
	ContentHash string      `json:"content_hash" db:"content_hash"`
	SizeBytes   int64       `json:"size_bytes" db:"size_bytes"`
	Attempts    int         `json:"attempts" db:"attempts"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	MirroredAt  *time.Time  `json:"mirrored_at" db:"mirrored_at"`
}
