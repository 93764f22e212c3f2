package normalize

import "staysync/pms"

// Listing is the canonical shape of an upstream listing record.
type Listing struct {
	ExternalID  string
	Name        string
	Address     string
	City        string
	Country     string
	PostalCode  string
	Bedrooms    int
	Bathrooms   int
	MaxGuests   int
	Title       string
	Description string
	Amenities   []string
	PhotoURLs   []string
	HouseRules  string
}

// NormalizeListing maps an upstream listing. Only the external id is
// required; everything else degrades to zero values.
func NormalizeListing(r pms.Record) (*Listing, error) {
	externalID := str(r, "id", "_id", "listingId", "listing_id", "uuid")
	if externalID == "" {
		return nil, &incompleteError{entity: "listing", field: "external id"}
	}

	l := &Listing{
		ExternalID:  externalID,
		Name:        str(r, "name", "internalListingName", "internal_name", "nickname"),
		Address:     str(r, "address", "street", "publicAddress", "full_address"),
		City:        str(r, "city", "cityName"),
		Country:     str(r, "country", "countryCode", "country_code"),
		PostalCode:  str(r, "zipcode", "zip_code", "postalCode", "postal_code"),
		Bedrooms:    intval(r, "bedroomsNumber", "bedrooms", "bedroom_count"),
		Bathrooms:   intval(r, "bathroomsNumber", "bathrooms", "bathroom_count"),
		MaxGuests:   intval(r, "personCapacity", "maxGuests", "max_guests", "accommodates"),
		Title:       str(r, "externalListingName", "title", "listing_title", "headline"),
		Description: str(r, "description", "summary"),
		Amenities:   strSlice(r, []string{"name", "amenityName"}, "listingAmenities", "amenities"),
		PhotoURLs:   strSlice(r, []string{"url", "original", "caption"}, "listingImages", "images", "photos"),
		HouseRules:  str(r, "houseRules", "house_rules", "rules"),
	}
	if l.Name == "" {
		l.Name = l.Title
	}
	return l, nil
}
