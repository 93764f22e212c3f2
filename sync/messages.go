package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"staysync/models"
	"staysync/normalize"
)

// SyncMessages performs a full inbox pass across every known property.
// Threads are upserted; messages are immutable and create-if-absent, so a
// redelivered or re-fetched message never rewrites stored content.
func (s *Service) SyncMessages(ctx context.Context) (*MessageStats, error) {
	props, err := s.store.ListProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}

	stats := &MessageStats{}
	for _, prop := range props {
		if err := s.syncInboxFor(ctx, &prop, stats); err != nil {
			log.Printf("Warning: messages sync failed for listing %s: %v", prop.ExternalListingID, err)
			stats.ListingErr++
		}
	}

	if err := s.store.UpsertCheckpoint(ctx, &models.SyncCheckpoint{
		Integration: s.integration,
		EntityType:  "messages",
		TotalSynced: stats.Inserted,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("Warning: failed to record messages checkpoint: %v", err)
	}

	log.Printf("Sync[%s]: messages pass done: %d threads, %d new messages, %d duplicates",
		s.integration, stats.Threads, stats.Inserted, stats.Duplicates)
	return stats, partialFailure(stats.ListingErr, len(props), "listings")
}

// SyncMessagesForListing refreshes the inbox of one listing, used by
// webhook-scoped syncs.
func (s *Service) SyncMessagesForListing(ctx context.Context, listingID string) error {
	prop, err := s.propertyForListing(ctx, listingID)
	if err != nil {
		return err
	}
	var stats MessageStats
	return s.syncInboxFor(ctx, prop, &stats)
}

func (s *Service) syncInboxFor(ctx context.Context, prop *models.Property, stats *MessageStats) error {
	records, err := s.client.InboxForListing(ctx, prop.ExternalListingID, s.maxPages)
	if err != nil {
		return err
	}

	for _, rec := range records {
		th, err := normalize.NormalizeThread(rec)
		if err != nil {
			log.Printf("Warning: skipping thread on listing %s: %v", prop.ExternalListingID, err)
			stats.Skipped++
			continue
		}
		if err := s.syncThread(ctx, prop.ID, th, stats); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) syncThread(ctx context.Context, propertyID uuid.UUID, th *normalize.Thread, stats *MessageStats) error {
	// Inbox listings omit message bodies; fetch the detail view for those.
	if len(th.Messages) == 0 {
		detail, err := s.client.Thread(ctx, th.ExternalID)
		if err != nil {
			return fmt.Errorf("fetch thread %s: %w", th.ExternalID, err)
		}
		full, err := normalize.NormalizeThread(detail)
		if err != nil {
			return fmt.Errorf("thread %s detail: %w", th.ExternalID, err)
		}
		th.Messages = full.Messages
	}

	thread, err := s.upsertThread(ctx, propertyID, th)
	if err != nil {
		return err
	}
	stats.Threads++

	var lastAt time.Time
	if thread.LastMessageAt != nil {
		lastAt = *thread.LastMessageAt
	}
	for _, raw := range th.Messages {
		msg, err := normalize.NormalizeMessage(raw)
		if err != nil {
			log.Printf("Warning: skipping message in thread %s: %v", th.ExternalID, err)
			stats.Skipped++
			continue
		}

		created, err := s.store.InsertMessageIfAbsent(ctx, &models.Message{
			ID:                uuid.New(),
			ExternalMessageID: msg.ExternalID,
			ThreadID:          thread.ID,
			Sender:            models.MessageSender(msg.Sender),
			Content:           msg.Content,
			SentAt:            msg.SentAt,
			CreatedAt:         time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ExternalID, err)
		}
		if created {
			stats.Inserted++
		} else {
			stats.Duplicates++
		}
		if msg.SentAt.After(lastAt) {
			lastAt = msg.SentAt
		}
	}

	if !lastAt.IsZero() && (thread.LastMessageAt == nil || lastAt.After(*thread.LastMessageAt)) {
		if err := s.store.SetThreadLastMessage(ctx, thread.ID, lastAt); err != nil {
			log.Printf("Warning: failed to update thread %s last message time: %v", th.ExternalID, err)
		}
	}
	return nil
}

func (s *Service) upsertThread(ctx context.Context, propertyID uuid.UUID, th *normalize.Thread) (*models.MessageThread, error) {
	now := time.Now().UTC()
	existing, err := s.store.GetThreadByExternalID(ctx, th.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("lookup thread %s: %w", th.ExternalID, err)
	}

	status := models.ThreadOpen
	if th.Status == string(models.ThreadArchived) {
		status = models.ThreadArchived
	}

	thread := &models.MessageThread{
		ExternalThreadID: th.ExternalID,
		PropertyID:       propertyID,
		Status:           status,
		LastMessageAt:    th.LastMessageAt,
		UpdatedAt:        now,
	}
	if existing != nil {
		thread.ID = existing.ID
		thread.CreatedAt = existing.CreatedAt
		thread.ReservationID = existing.ReservationID
		thread.GuestID = existing.GuestID
		if thread.LastMessageAt == nil {
			thread.LastMessageAt = existing.LastMessageAt
		}
	} else {
		thread.ID = uuid.New()
		thread.CreatedAt = now
	}

	// Link to a reservation and guest when the upstream names them.
	if thread.ReservationID == nil && th.ExternalReservationID != "" {
		if res, err := s.store.GetReservationByExternalID(ctx, th.ExternalReservationID); err == nil && res != nil {
			thread.ReservationID = &res.ID
			if thread.GuestID == nil {
				thread.GuestID = res.GuestID
			}
		}
	}
	if thread.GuestID == nil && th.ExternalGuestID != "" {
		if g, err := s.store.GetGuestByExternalID(ctx, th.ExternalGuestID); err == nil && g != nil {
			thread.GuestID = &g.ID
		}
	}
	if thread.GuestID == nil && th.GuestEmail != "" {
		if g, err := s.store.GetGuestByEmail(ctx, th.GuestEmail); err == nil && g != nil {
			thread.GuestID = &g.ID
		}
	}

	if err := s.store.UpsertThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("upsert thread %s: %w", th.ExternalID, err)
	}
	return thread, nil
}
