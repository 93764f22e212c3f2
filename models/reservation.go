package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationNew       ReservationStatus = "new"
	ReservationAccepted  ReservationStatus = "accepted"
	ReservationDeclined  ReservationStatus = "declined"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
	ReservationInquiry   ReservationStatus = "inquiry"
)

// statusAliases maps the status strings the PMS has been observed to emit
// onto the canonical enumeration. Lookup is case-insensitive. New aliases are
// additive; unrecognized strings fall back to accepted.
var statusAliases = map[string]ReservationStatus{
	"new":             ReservationNew,
	"pending":         ReservationNew,
	"accepted":        ReservationAccepted,
	"confirmed":       ReservationAccepted,
	"modified":        ReservationAccepted,
	"ownerstay":       ReservationAccepted,
	"declined":        ReservationDeclined,
	"denied":          ReservationDeclined,
	"cancelled":       ReservationCancelled,
	"canceled":        ReservationCancelled,
	"cancelled_by_pm": ReservationCancelled,
	"expired":         ReservationExpired,
	"timedout":        ReservationExpired,
	"inquiry":         ReservationInquiry,
	"request":         ReservationInquiry,
}

// ParseReservationStatus resolves an upstream status string. The second
// return reports whether the string was recognized; unrecognized values
// resolve to accepted so a novel upstream state never fails a sync.
func ParseReservationStatus(raw string) (ReservationStatus, bool) {
	if status, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status, true
	}
	return ReservationAccepted, false
}

// Reservation is a booking, keyed by the immutable reservation id the PMS
// assigned. Belongs to exactly one property, optionally linked to a guest.
type Reservation struct {
	ID                    uuid.UUID         `json:"id" db:"id"`
	ExternalReservationID string            `json:"external_reservation_id" db:"external_reservation_id"`
	PropertyID            uuid.UUID         `json:"property_id" db:"property_id"`
	GuestID               *uuid.UUID        `json:"guest_id" db:"guest_id"`
	Status                ReservationStatus `json:"status" db:"status"`
	CheckIn               time.Time         `json:"check_in" db:"check_in"`
	CheckOut              time.Time         `json:"check_out" db:"check_out"`
	Nights                int               `json:"nights" db:"nights"`
	TotalPrice            *float64          `json:"total_price" db:"total_price"`
	NightlyRate           *float64          `json:"nightly_rate" db:"nightly_rate"`
	CleaningFee           *float64          `json:"cleaning_fee" db:"cleaning_fee"`
	Channel               string            `json:"channel" db:"channel"`
	SyncedAt              time.Time         `json:"synced_at" db:"synced_at"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}

// Guest is keyed by the PMS guest id when the upstream provides one, with
// email as the fallback identity. Later syncs fill in newer non-null values
// but never blank out existing ones.
type Guest struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ExternalGuestID string    `json:"external_guest_id" db:"external_guest_id"`
	Name            string    `json:"name" db:"name"`
	Email           string    `json:"email" db:"email"`
	Phone           string    `json:"phone" db:"phone"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
