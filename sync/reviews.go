package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"staysync/models"
	"staysync/normalize"
)

// SyncReviews performs a full reviews pass. Reviews are not reconciled into
// domain tables yet; each one lands in the event log, deduplicated by review
// id, so the backlog is ready when a reviews feature ships.
func (s *Service) SyncReviews(ctx context.Context) (*ReviewStats, error) {
	records, err := s.client.Reviews(ctx, s.maxPages)
	if err != nil {
		return nil, fmt.Errorf("fetch reviews: %w", err)
	}

	stats := &ReviewStats{Fetched: len(records)}
	for _, rec := range records {
		rv, err := normalize.NormalizeReview(rec)
		if err != nil {
			log.Printf("Warning: skipping review: %v", err)
			stats.Skipped++
			continue
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return stats, fmt.Errorf("marshal review %s: %w", rv.ExternalID, err)
		}
		source := models.ScopedEventSource(models.EventSourceReview, s.integration)
		created, err := s.store.RecordEvent(ctx, source, rv.ExternalID, "review", payload)
		if err != nil {
			return stats, fmt.Errorf("record review %s: %w", rv.ExternalID, err)
		}
		if created {
			stats.New++
			log.Printf("Sync[%s]: new review %s on listing %s", s.integration, rv.ExternalID, rv.ListingID)
		} else {
			stats.Duplicates++
		}
	}

	if err := s.store.UpsertCheckpoint(ctx, &models.SyncCheckpoint{
		Integration: s.integration,
		EntityType:  "reviews",
		TotalSynced: stats.New,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("Warning: failed to record reviews checkpoint: %v", err)
	}

	log.Printf("Sync[%s]: reviews pass done: %d fetched, %d new, %d already seen",
		s.integration, stats.Fetched, stats.New, stats.Duplicates)
	return stats, nil
}
