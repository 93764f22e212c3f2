package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageSender string

const (
	SenderGuest      MessageSender = "guest"
	SenderHost       MessageSender = "host"
	SenderAutomation MessageSender = "automation"
)

type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "open"
	ThreadArchived ThreadStatus = "archived"
)

// MessageThread is a guest conversation, keyed by the PMS thread id.
type MessageThread struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	ExternalThreadID string       `json:"external_thread_id" db:"external_thread_id"`
	PropertyID       uuid.UUID    `json:"property_id" db:"property_id"`
	ReservationID    *uuid.UUID   `json:"reservation_id" db:"reservation_id"`
	GuestID          *uuid.UUID   `json:"guest_id" db:"guest_id"`
	Status           ThreadStatus `json:"status" db:"status"`
	LastMessageAt    *time.Time   `json:"last_message_at" db:"last_message_at"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// Message is immutable once stored. Re-sync and webhook redelivery may only
// create-if-absent, never rewrite content.
type Message struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	ExternalMessageID string        `json:"external_message_id" db:"external_message_id"`
	ThreadID          uuid.UUID     `json:"thread_id" db:"thread_id"`
	Sender            MessageSender `json:"sender" db:"sender"`
	Content           string        `json:"content" db:"content"`
	SentAt            time.Time     `json:"sent_at" db:"sent_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}
