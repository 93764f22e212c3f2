package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Property is a managed rental unit, keyed by the immutable listing id the
// PMS assigned to it. One row per distinct external listing id.
type Property struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	ExternalListingID string     `json:"external_listing_id" db:"external_listing_id"`
	OwnerID           uuid.UUID  `json:"owner_id" db:"owner_id"`
	Name              string     `json:"name" db:"name"`
	Address           string     `json:"address" db:"address"`
	City              string     `json:"city" db:"city"`
	Country           string     `json:"country" db:"country"`
	PostalCode        string     `json:"postal_code" db:"postal_code"`
	Bedrooms          int        `json:"bedrooms" db:"bedrooms"`
	Bathrooms         int        `json:"bathrooms" db:"bathrooms"`
	MaxGuests         int        `json:"max_guests" db:"max_guests"`
	LastSyncedAt      *time.Time `json:"last_synced_at" db:"last_synced_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// ListingSnapshot is an immutable, append-only capture of a property's
// marketing content. A new row is written only when the content hash differs
// from the latest snapshot for that property.
type ListingSnapshot struct {
	ID          int64           `json:"id" db:"id"`
	PropertyID  uuid.UUID       `json:"property_id" db:"property_id"`
	ContentHash string          `json:"content_hash" db:"content_hash"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Amenities   json.RawMessage `json:"amenities" db:"amenities"`
	Photos      json.RawMessage `json:"photos" db:"photos"`
	HouseRules  string          `json:"house_rules" db:"house_rules"`
	CapturedAt  time.Time       `json:"captured_at" db:"captured_at"`
}
