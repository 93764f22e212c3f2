package normalize

import (
	"strings"
	"time"

	"staysync/pms"
)

// Thread is the canonical shape of an upstream inbox conversation.
type Thread struct {
	ExternalID            string
	ListingID             string
	ExternalReservationID string
	ExternalGuestID       string
	GuestEmail            string
	Status                string
	LastMessageAt         *time.Time
	Messages              []pms.Record
}

// NormalizeThread maps an upstream inbox thread. The embedded message list
// (present on thread-detail responses, absent on inbox listings) is kept raw
// for NormalizeMessage.
func NormalizeThread(r pms.Record) (*Thread, error) {
	externalID := str(r, "id", "_id", "threadId", "thread_id", "conversationId", "conversation_id")
	if externalID == "" {
		return nil, &incompleteError{entity: "thread", field: "external id"}
	}

	th := &Thread{
		ExternalID:            externalID,
		ListingID:             str(r, "listingId", "listing_id", "listingMapId"),
		ExternalReservationID: str(r, "reservationId", "reservation_id"),
		ExternalGuestID:       str(r, "guestId", "guest_id", "recipientId"),
		GuestEmail:            str(r, "guestEmail", "guest_email"),
		Status:                strings.ToLower(str(r, "status", "threadStatus")),
		LastMessageAt:         timeval(r, "lastMessageAt", "last_message_at", "lastMessageDate", "updatedAt"),
	}

	if v, ok := pick(r, "messages", "conversationMessages", "items"); ok {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					th.Messages = append(th.Messages, m)
				}
			}
		}
	}

	return th, nil
}

// Message is the canonical shape of one message within a thread.
type Message struct {
	ExternalID string
	Sender     string // guest, host, or automation
	Content    string
	SentAt     time.Time
}

// NormalizeMessage maps an upstream message. Sender classification collapses
// the upstream's assorted role strings into guest/host/automation.
func NormalizeMessage(r pms.Record) (*Message, error) {
	externalID := str(r, "id", "_id", "messageId", "message_id")
	if externalID == "" {
		return nil, &incompleteError{entity: "message", field: "external id"}
	}

	sentAt := timeval(r, "createdAt", "created_at", "date", "insertedOn", "sentAt")
	if sentAt == nil {
		now := time.Now().UTC()
		sentAt = &now
	}

	return &Message{
		ExternalID: externalID,
		Sender:     classifySender(r),
		Content:    str(r, "body", "message", "content", "text"),
		SentAt:     *sentAt,
	}, nil
}

func classifySender(r pms.Record) string {
	raw := strings.ToLower(str(r, "sentFrom", "sender", "senderType", "sender_type", "from"))
	switch {
	case strings.Contains(raw, "guest"), strings.Contains(raw, "customer"):
		return "guest"
	case strings.Contains(raw, "auto"), strings.Contains(raw, "bot"), strings.Contains(raw, "system"):
		return "automation"
	case strings.Contains(raw, "host"), strings.Contains(raw, "owner"), strings.Contains(raw, "user"):
		return "host"
	}
	// Inbound is the common case for unclassifiable senders.
	return "guest"
}
