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

// SyncReservations performs a full reservations pass. The upstream
// reservations endpoint is only filterable by listing, so the pass walks
// every known property. A failed listing is logged and skipped; the pass
// fails only if at least one listing could not be fetched, so one broken
// listing never starves the rest.
func (s *Service) SyncReservations(ctx context.Context) (*ReservationStats, error) {
	props, err := s.store.ListProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}

	stats := &ReservationStats{}
	for _, prop := range props {
		if err := s.syncReservationsFor(ctx, &prop, stats); err != nil {
			log.Printf("Warning: reservations sync failed for listing %s: %v", prop.ExternalListingID, err)
			stats.ListingErr++
		}
	}

	if err := s.store.UpsertCheckpoint(ctx, &models.SyncCheckpoint{
		Integration: s.integration,
		EntityType:  "reservations",
		TotalSynced: stats.Upserted,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("Warning: failed to record reservations checkpoint: %v", err)
	}

	log.Printf("Sync[%s]: reservations pass done: %d fetched, %d upserted, %d skipped across %d properties",
		s.integration, stats.Fetched, stats.Upserted, stats.Skipped, len(props))
	return stats, partialFailure(stats.ListingErr, len(props), "listings")
}

// SyncReservationsForListing refreshes the reservations of one listing, used
// by webhook-scoped syncs.
func (s *Service) SyncReservationsForListing(ctx context.Context, listingID string) error {
	prop, err := s.propertyForListing(ctx, listingID)
	if err != nil {
		return err
	}
	var stats ReservationStats
	return s.syncReservationsFor(ctx, prop, &stats)
}

// SyncReservation refreshes a single reservation by upstream id, used by
// webhook-scoped syncs.
func (s *Service) SyncReservation(ctx context.Context, reservationID string) error {
	rec, err := s.client.Reservation(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("fetch reservation %s: %w", reservationID, err)
	}

	res, err := normalize.NormalizeReservation(rec)
	if err != nil {
		return err
	}
	prop, err := s.propertyForListing(ctx, res.ListingID)
	if err != nil {
		return err
	}

	var stats ReservationStats
	return s.upsertReservation(ctx, prop.ID, res, &stats)
}

// propertyForListing resolves a listing id to a local property, importing
// the listing on the fly when a webhook references one we have not synced.
func (s *Service) propertyForListing(ctx context.Context, listingID string) (*models.Property, error) {
	if listingID == "" {
		return nil, fmt.Errorf("record carries no listing id")
	}
	prop, err := s.store.GetPropertyByListingID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("lookup property %s: %w", listingID, err)
	}
	if prop != nil {
		return prop, nil
	}

	if err := s.SyncListing(ctx, listingID); err != nil {
		return nil, fmt.Errorf("import unknown listing %s: %w", listingID, err)
	}
	prop, err = s.store.GetPropertyByListingID(ctx, listingID)
	if err != nil || prop == nil {
		return nil, fmt.Errorf("listing %s still unknown after import (err=%v)", listingID, err)
	}
	return prop, nil
}

func (s *Service) syncReservationsFor(ctx context.Context, prop *models.Property, stats *ReservationStats) error {
	records, err := s.client.ReservationsForListing(ctx, prop.ExternalListingID, s.maxPages)
	if err != nil {
		return err
	}
	stats.Fetched += len(records)

	for _, rec := range records {
		res, err := normalize.NormalizeReservation(rec)
		if err != nil {
			log.Printf("Warning: skipping reservation on listing %s: %v", prop.ExternalListingID, err)
			stats.Skipped++
			continue
		}
		if err := s.upsertReservation(ctx, prop.ID, res, stats); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) upsertReservation(ctx context.Context, propertyID uuid.UUID, res *normalize.Reservation, stats *ReservationStats) error {
	guestID, err := s.resolveGuest(ctx, res.Guest)
	if err != nil {
		return err
	}

	status, recognized := models.ParseReservationStatus(res.RawStatus)
	if !recognized && res.RawStatus != "" {
		log.Printf("Warning: unrecognized reservation status %q on %s, treating as accepted", res.RawStatus, res.ExternalID)
		stats.Unmapped++
	}

	now := time.Now().UTC()
	existing, err := s.store.GetReservationByExternalID(ctx, res.ExternalID)
	if err != nil {
		return fmt.Errorf("lookup reservation %s: %w", res.ExternalID, err)
	}

	r := &models.Reservation{
		ExternalReservationID: res.ExternalID,
		PropertyID:            propertyID,
		GuestID:               guestID,
		Status:                status,
		CheckIn:               res.CheckIn,
		CheckOut:              res.CheckOut,
		Nights:                res.Nights,
		TotalPrice:            res.Total,
		NightlyRate:           res.NightlyRate,
		CleaningFee:           res.CleaningFee,
		Channel:               res.Channel,
		SyncedAt:              now,
		UpdatedAt:             now,
	}
	if existing != nil {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
		if r.GuestID == nil {
			r.GuestID = existing.GuestID
		}
	} else {
		r.ID = uuid.New()
		r.CreatedAt = now
	}

	if err := s.store.UpsertReservation(ctx, r); err != nil {
		return fmt.Errorf("upsert reservation %s: %w", res.ExternalID, err)
	}
	stats.Upserted++
	return nil
}

// resolveGuest matches a guest by upstream id first, then by email, creating
// a row when neither matches. Returns nil when the reservation carries no
// guest identity at all.
func (s *Service) resolveGuest(ctx context.Context, info normalize.GuestInfo) (*uuid.UUID, error) {
	if info.ExternalID == "" && info.Email == "" {
		return nil, nil
	}

	var existing *models.Guest
	var err error
	if info.ExternalID != "" {
		existing, err = s.store.GetGuestByExternalID(ctx, info.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("lookup guest %s: %w", info.ExternalID, err)
		}
	}
	if existing == nil && info.Email != "" {
		existing, err = s.store.GetGuestByEmail(ctx, info.Email)
		if err != nil {
			return nil, fmt.Errorf("lookup guest by email: %w", err)
		}
	}

	now := time.Now().UTC()
	g := &models.Guest{
		ExternalGuestID: info.ExternalID,
		Name:            info.Name,
		Email:           info.Email,
		Phone:           info.Phone,
		UpdatedAt:       now,
	}
	if existing != nil {
		g.ID = existing.ID
		g.CreatedAt = existing.CreatedAt
		// Fill, never blank: keep stored values where the upstream went quiet.
		if g.ExternalGuestID == "" {
			g.ExternalGuestID = existing.ExternalGuestID
		}
		if g.Name == "" {
			g.Name = existing.Name
		}
		if g.Email == "" {
			g.Email = existing.Email
		}
		if g.Phone == "" {
			g.Phone = existing.Phone
		}
	} else {
		g.ID = uuid.New()
		g.CreatedAt = now
	}

	if err := s.store.UpsertGuest(ctx, g); err != nil {
		return nil, fmt.Errorf("upsert guest: %w", err)
	}
	return &g.ID, nil
}
