package normalize

import (
	"time"

	"staysync/pms"
)

// Reservation is the canonical shape of an upstream booking record.
// RawStatus is kept verbatim; the reconciler owns status mapping.
type Reservation struct {
	ExternalID  string
	ListingID   string
	RawStatus   string
	CheckIn     time.Time
	CheckOut    time.Time
	Nights      int
	Total       *float64
	NightlyRate *float64
	CleaningFee *float64
	Channel     string
	Guest       GuestInfo
}

type GuestInfo struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
}

// NormalizeReservation maps an upstream reservation. Check-in and check-out
// must both resolve; a reservation without dates is a data-quality failure
// surfaced as an incomplete error, never stored with placeholders.
func NormalizeReservation(r pms.Record) (*Reservation, error) {
	externalID := str(r, "id", "_id", "reservationId", "reservation_id", "confirmationCode")
	if externalID == "" {
		return nil, &incompleteError{entity: "reservation", field: "external id"}
	}

	checkIn := timeval(r, "checkIn", "check_in", "check_in_date", "arrivalDate", "arrival_date")
	checkOut := timeval(r, "checkOut", "check_out", "check_out_date", "departureDate", "departure_date")
	if checkIn == nil || checkOut == nil {
		return nil, &incompleteError{entity: "reservation", field: "check-in/check-out"}
	}

	res := &Reservation{
		ExternalID:  externalID,
		ListingID:   str(r, "listingId", "listing_id", "listingMapId", "propertyId"),
		RawStatus:   str(r, "status", "reservationStatus", "reservation_status"),
		CheckIn:     *checkIn,
		CheckOut:    *checkOut,
		Nights:      intval(r, "nights", "numberOfNights", "number_of_nights"),
		Total:       num(r, "totalPrice", "total_price", "total", "grandTotal"),
		NightlyRate: num(r, "nightlyRate", "nightly_rate", "basePrice", "base_price"),
		CleaningFee: num(r, "cleaningFee", "cleaning_fee"),
		Channel:     str(r, "channelName", "channel", "source", "bookingChannel"),
	}

	if res.Nights == 0 {
		if n := int(checkOut.Sub(*checkIn).Hours() / 24); n > 0 {
			res.Nights = n
		}
	}

	// Guest details arrive either nested or flattened onto the reservation.
	if g := sub(r, "guest", "guestInfo"); g != nil {
		res.Guest = GuestInfo{
			ExternalID: str(g, "id", "_id", "guestId", "guest_id"),
			Name:       str(g, "name", "fullName", "full_name", "firstName"),
			Email:      str(g, "email", "guestEmail"),
			Phone:      str(g, "phone", "phoneNumber", "phone_number"),
		}
	} else {
		res.Guest = GuestInfo{
			ExternalID: str(r, "guestId", "guest_id"),
			Name:       str(r, "guestName", "guest_name"),
			Email:      str(r, "guestEmail", "guest_email"),
			Phone:      str(r, "guestPhone", "guest_phone", "phone"),
		}
	}

	return res, nil
}
