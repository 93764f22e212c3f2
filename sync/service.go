// Package sync reconciles upstream PMS state with the local database. Every
// pass is a full re-scan of the upstream resource: writes are idempotent
// upserts keyed by external ids, so a pass can be repeated or interleaved
// with webhook-triggered scoped syncs without drift.
package sync

import (
	"fmt"

	"staysync/pms"
	"staysync/storage"
)

type Service struct {
	store       storage.Store
	client      *pms.Client
	integration string
	maxPages    int
}

func NewService(store storage.Store, client *pms.Client, integration string, maxPages int) *Service {
	return &Service{
		store:       store,
		client:      client,
		integration: integration,
		maxPages:    maxPages,
	}
}

func (s *Service) Integration() string {
	return s.integration
}

// ListingStats summarizes one listings pass.
type ListingStats struct {
	Fetched   int `json:"fetched"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Snapshots int `json:"snapshots"`
	Skipped   int `json:"skipped"`
}

// ReservationStats summarizes one reservations pass.
type ReservationStats struct {
	Fetched    int `json:"fetched"`
	Upserted   int `json:"upserted"`
	Skipped    int `json:"skipped"`
	Unmapped   int `json:"unmapped_status"`
	ListingErr int `json:"listing_errors"`
}

// MessageStats summarizes one messages pass.
type MessageStats struct {
	Threads    int `json:"threads"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	ListingErr int `json:"listing_errors"`
}

// ReviewStats summarizes one reviews pass.
type ReviewStats struct {
	Fetched    int `json:"fetched"`
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

func partialFailure(failed, total int, what string) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d %s failed", failed, total, what)
}
