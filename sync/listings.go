package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"staysync/models"
	"staysync/normalize"
	"staysync/pms"
)

// SyncListings performs a full listings pass: upsert every upstream listing
// as a property, then capture a content snapshot when the marketing content
// hash changed since the latest snapshot.
func (s *Service) SyncListings(ctx context.Context) (*ListingStats, error) {
	records, err := s.client.Listings(ctx, s.maxPages)
	if err != nil {
		return nil, fmt.Errorf("fetch listings: %w", err)
	}

	owner, err := s.defaultOwner(ctx)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		log.Printf("Warning: no admin or owner user exists, new listings will be skipped this cycle")
	}

	stats := &ListingStats{Fetched: len(records)}
	for _, rec := range records {
		if err := s.upsertListing(ctx, owner, rec, stats); err != nil {
			if normalize.IsIncomplete(err) || errors.Is(err, errNoOwner) {
				log.Printf("Warning: skipping listing: %v", err)
				stats.Skipped++
				continue
			}
			return stats, err
		}
	}

	if err := s.store.UpsertCheckpoint(ctx, &models.SyncCheckpoint{
		Integration: s.integration,
		EntityType:  "listings",
		TotalSynced: stats.Fetched - stats.Skipped,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("Warning: failed to record listings checkpoint: %v", err)
	}

	log.Printf("Sync[%s]: listings pass done: %d fetched, %d created, %d updated, %d snapshots, %d skipped",
		s.integration, stats.Fetched, stats.Created, stats.Updated, stats.Snapshots, stats.Skipped)
	return stats, nil
}

// SyncListing refreshes a single listing, used by webhook-scoped syncs.
func (s *Service) SyncListing(ctx context.Context, listingID string) error {
	rec, err := s.client.Listing(ctx, listingID)
	if err != nil {
		return fmt.Errorf("fetch listing %s: %w", listingID, err)
	}

	owner, err := s.defaultOwner(ctx)
	if err != nil {
		return err
	}

	var stats ListingStats
	return s.upsertListing(ctx, owner, rec, &stats)
}

// errNoOwner marks a listing that cannot be created because no elevated user
// exists to own it. Updates to already-imported properties are unaffected.
var errNoOwner = errors.New("no admin or owner user exists to own imported properties")

// defaultOwner resolves the user new properties are attached to. A nil owner
// is not an error: existing properties keep their owner and still sync, only
// the creation of new ones is held back.
func (s *Service) defaultOwner(ctx context.Context) (*models.User, error) {
	owner, err := s.store.GetDefaultOwner(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve default owner: %w", err)
	}
	return owner, nil
}

func (s *Service) upsertListing(ctx context.Context, owner *models.User, rec pms.Record, stats *ListingStats) error {
	listing, err := normalize.NormalizeListing(rec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	existing, err := s.store.GetPropertyByListingID(ctx, listing.ExternalID)
	if err != nil {
		return fmt.Errorf("lookup property %s: %w", listing.ExternalID, err)
	}

	if existing == nil && owner == nil {
		return fmt.Errorf("listing %s: %w", listing.ExternalID, errNoOwner)
	}

	prop := &models.Property{
		ExternalListingID: listing.ExternalID,
		Name:              listing.Name,
		Address:           listing.Address,
		City:              listing.City,
		Country:           listing.Country,
		PostalCode:        listing.PostalCode,
		Bedrooms:          listing.Bedrooms,
		Bathrooms:         listing.Bathrooms,
		MaxGuests:         listing.MaxGuests,
	}
	if existing != nil {
		prop.ID = existing.ID
		prop.OwnerID = existing.OwnerID
		prop.CreatedAt = existing.CreatedAt
		stats.Updated++
	} else {
		prop.ID = uuid.New()
		prop.OwnerID = owner.ID
		prop.CreatedAt = now
		stats.Created++
	}
	prop.UpdatedAt = now

	if err := s.store.UpsertProperty(ctx, prop); err != nil {
		return fmt.Errorf("upsert property %s: %w", listing.ExternalID, err)
	}

	wrote, err := s.captureSnapshot(ctx, prop.ID, listing, now)
	if err != nil {
		return err
	}
	if wrote {
		stats.Snapshots++
	}

	if err := s.store.TouchPropertySync(ctx, prop.ID, now); err != nil {
		log.Printf("Warning: failed to touch sync time for %s: %v", listing.ExternalID, err)
	}
	return nil
}

// captureSnapshot writes a snapshot row when the marketing content changed,
// reporting whether one was written. The uniqueness constraint on
// (property_id, content_hash) makes a repeated capture a no-op, so a
// concurrent scoped sync cannot double-write.
func (s *Service) captureSnapshot(ctx context.Context, propertyID uuid.UUID, listing *normalize.Listing, now time.Time) (bool, error) {
	hash := ContentHash(listing)

	latest, err := s.store.LatestSnapshot(ctx, propertyID)
	if err != nil {
		return false, fmt.Errorf("latest snapshot for %s: %w", listing.ExternalID, err)
	}
	if latest != nil && latest.ContentHash == hash {
		return false, nil
	}

	amenities, _ := json.Marshal(listing.Amenities)
	photos, _ := json.Marshal(listing.PhotoURLs)
	snap := &models.ListingSnapshot{
		PropertyID:  propertyID,
		ContentHash: hash,
		Title:       listing.Title,
		Description: listing.Description,
		Amenities:   amenities,
		Photos:      photos,
		HouseRules:  listing.HouseRules,
		CapturedAt:  now,
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return false, fmt.Errorf("create snapshot for %s: %w", listing.ExternalID, err)
	}

	for _, url := range listing.PhotoURLs {
		if err := s.store.EnqueuePhoto(ctx, propertyID, url); err != nil {
			log.Printf("Warning: failed to enqueue photo %s: %v", url, err)
		}
	}
	return true, nil
}
