package normalize

import (
	"time"

	"staysync/pms"
)

// Review is the canonical shape of an upstream guest review.
type Review struct {
	ExternalID            string
	ListingID             string
	ExternalReservationID string
	GuestName             string
	Rating                *float64
	Comment               string
	SubmittedAt           *time.Time
}

// NormalizeReview maps an upstream review record.
func NormalizeReview(r pms.Record) (*Review, error) {
	externalID := str(r, "id", "_id", "reviewId", "review_id")
	if externalID == "" {
		return nil, &incompleteError{entity: "review", field: "external id"}
	}

	rv := &Review{
		ExternalID:            externalID,
		ListingID:             str(r, "listingId", "listing_id", "listingMapId"),
		ExternalReservationID: str(r, "reservationId", "reservation_id"),
		GuestName:             str(r, "guestName", "guest_name", "revieweeName"),
		Rating:                num(r, "rating", "overallRating", "starRating"),
		Comment:               str(r, "publicReview", "comment", "review", "text"),
		SubmittedAt:           timeval(r, "submittedAt", "submitted_at", "departureDate", "createdAt", "insertedOn"),
	}

	if g := sub(r, "guest", "reviewer"); g != nil && rv.GuestName == "" {
		rv.GuestName = str(g, "name", "fullName", "firstName")
	}

	return rv, nil
}
