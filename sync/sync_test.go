package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"staysync/config"
	"staysync/models"
	"staysync/normalize"
	"staysync/pms"
	"staysync/storage"
)

// fakePMS is a minimal upstream: static JSON per path, with pagination
// handled by returning the full body on page 1 and empty pages after.
type fakePMS struct {
	mux   *http.ServeMux
	calls map[string]int
}

func newFakePMS() *fakePMS {
	f := &fakePMS{mux: http.NewServeMux(), calls: make(map[string]int)}
	return f
}

func (f *fakePMS) paged(pattern string, records func(r *http.Request) []map[string]any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		f.calls[pattern]++
		var out []map[string]any
		if r.URL.Query().Get("page") == "1" {
			out = records(r)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": out})
	})
}

func (f *fakePMS) object(pattern string, record func(r *http.Request) map[string]any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		f.calls[pattern]++
		json.NewEncoder(w).Encode(record(r))
	})
}

func newTestService(t *testing.T, handler http.Handler) (*Service, *storage.SQLiteStore) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	t.Setenv("TEST_PMS_KEY", "secret")
	client, err := pms.NewClient(&config.IntegrationConfig{
		ID:           "testpms",
		BaseURL:      srv.URL,
		APIKeyEnv:    "TEST_PMS_KEY",
		APIKeyHeader: "X-ApiKey",
		PageSize:     100,
		MaxRetries:   0,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	return NewService(store, client, "testpms", 10), store
}

func seedOwner(t *testing.T, store *storage.SQLiteStore, role models.UserRole, email string, createdAt time.Time) uuid.UUID {
	t.Helper()
	u := &models.User{ID: uuid.New(), Email: email, Name: email, Role: role, CreatedAt: createdAt}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func TestSyncListingsCreatesPropertiesAndSnapshot(t *testing.T) {
	f := newFakePMS()
	f.paged("/listings", func(*http.Request) []map[string]any {
		return []map[string]any{
			{"id": "L-1", "name": "Loft", "city": "Split", "externalListingName": "Sea Loft",
				"description": "Bright loft", "listingImages": []any{map[string]any{"url": "https://img/a.jpg"}}},
			{"id": "L-2", "name": "Cabin"},
			{"nickname": "no id, skipped"},
		}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()

	staffAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedOwner(t, store, models.RoleStaff, "staff@example.com", staffAt)
	wantOwner := seedOwner(t, store, models.RoleOwner, "owner@example.com", staffAt.Add(time.Hour))
	seedOwner(t, store, models.RoleAdmin, "admin@example.com", staffAt.Add(2*time.Hour))

	stats, err := svc.SyncListings(ctx)
	if err != nil {
		t.Fatalf("SyncListings: %v", err)
	}
	if stats.Created != 2 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 2 created 1 skipped", stats)
	}

	prop, err := store.GetPropertyByListingID(ctx, "L-1")
	if err != nil || prop == nil {
		t.Fatalf("property L-1 not stored: %v", err)
	}
	// Earliest-created elevated user owns imported properties.
	if prop.OwnerID != wantOwner {
		t.Errorf("owner = %s, want earliest elevated user %s", prop.OwnerID, wantOwner)
	}

	snap, err := store.LatestSnapshot(ctx, prop.ID)
	if err != nil || snap == nil {
		t.Fatalf("snapshot not captured: %v", err)
	}
	if snap.Title != "Sea Loft" {
		t.Errorf("snapshot title = %q", snap.Title)
	}

	photos, err := store.PendingPhotos(ctx, 10)
	if err != nil {
		t.Fatalf("pending photos: %v", err)
	}
	if len(photos) != 1 || photos[0].URL != "https://img/a.jpg" {
		t.Errorf("photo queue = %+v", photos)
	}
}

func TestSyncListingsSnapshotGatedByContentHash(t *testing.T) {
	description := "Original"
	f := newFakePMS()
	f.paged("/listings", func(*http.Request) []map[string]any {
		return []map[string]any{{"id": "L-1", "name": "Loft", "description": description, "personCapacity": 4}}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())

	if _, err := svc.SyncListings(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	stats, err := svc.SyncListings(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Snapshots != 0 {
		t.Errorf("unchanged content produced %d snapshots, want 0", stats.Snapshots)
	}

	// Marketing change produces exactly one new snapshot.
	description = "Fully renovated"
	stats, err = svc.SyncListings(ctx)
	if err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if stats.Snapshots != 1 {
		t.Errorf("changed content produced %d snapshots, want 1", stats.Snapshots)
	}
}

func TestSyncListingsWalksPagesAndDeduplicates(t *testing.T) {
	f := newFakePMS()
	f.mux.HandleFunc("/listings", func(w http.ResponseWriter, r *http.Request) {
		f.calls["/listings"]++
		var out []map[string]any
		switch r.URL.Query().Get("page") {
		case "1":
			out = []map[string]any{{"id": "L-1", "name": "Loft"}, {"id": "L-2", "name": "Cabin"}}
		case "2":
			// The upstream shifts records between pages; L-2 repeats.
			out = []map[string]any{{"id": "L-2", "name": "Cabin"}, {"id": "L-3", "name": "Villa"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": out})
	})

	svc, store := newTestService(t, f.mux)
	seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())

	stats, err := svc.SyncListings(context.Background())
	if err != nil {
		t.Fatalf("SyncListings: %v", err)
	}
	if stats.Fetched != 3 || stats.Created != 3 {
		t.Fatalf("got fetched=%d created=%d, want 3/3", stats.Fetched, stats.Created)
	}
	for _, id := range []string{"L-1", "L-2", "L-3"} {
		p, err := store.GetPropertyByListingID(context.Background(), id)
		if err != nil || p == nil {
			t.Errorf("property %s missing: %v", id, err)
		}
	}
}

func TestSyncListingsSkipsNewWithoutElevatedUser(t *testing.T) {
	f := newFakePMS()
	f.paged("/listings", func(*http.Request) []map[string]any {
		return []map[string]any{
			{"id": "L-1", "name": "New One"},
			{"id": "L-2", "name": "Known One Renamed"},
		}
	})
	svc, store := newTestService(t, f.mux)
	staffID := seedOwner(t, store, models.RoleStaff, "staff@example.com", time.Now().UTC())
	seedProperty(t, store, staffID, "L-2")

	ctx := context.Background()
	stats, err := svc.SyncListings(ctx)
	if err != nil {
		t.Fatalf("SyncListings: %v", err)
	}
	if stats.Created != 0 || stats.Skipped != 1 || stats.Updated != 1 {
		t.Fatalf("got created=%d skipped=%d updated=%d, want 0/1/1", stats.Created, stats.Skipped, stats.Updated)
	}

	if p, err := store.GetPropertyByListingID(ctx, "L-1"); err != nil || p != nil {
		t.Fatalf("L-1 should not be created without an elevated user, got %v, %v", p, err)
	}
	p, err := store.GetPropertyByListingID(ctx, "L-2")
	if err != nil || p == nil {
		t.Fatalf("lookup L-2: %v, %v", p, err)
	}
	if p.Name != "Known One Renamed" {
		t.Fatalf("existing property not updated, name %q", p.Name)
	}
}

func reservationFixture(listing string) map[string]any {
	return map[string]any{
		"id":        "R-1",
		"listingId": listing,
		"status":    "confirmed",
		"checkIn":   "2026-09-01",
		"checkOut":  "2026-09-04",
		"guest":     map[string]any{"id": "G-1", "name": "Ana", "email": "ana@example.com"},
	}
}

func seedProperty(t *testing.T, store *storage.SQLiteStore, ownerID uuid.UUID, listingID string) *models.Property {
	t.Helper()
	now := time.Now().UTC()
	prop := &models.Property{
		ID: uuid.New(), ExternalListingID: listingID, OwnerID: ownerID,
		Name: "Loft", CreatedAt: now, UpdatedAt: now,
	}
	if err := store.UpsertProperty(context.Background(), prop); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	return prop
}

func TestSyncReservationsIdempotent(t *testing.T) {
	f := newFakePMS()
	f.paged("/reservations", func(r *http.Request) []map[string]any {
		return []map[string]any{reservationFixture(r.URL.Query().Get("listingId"))}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	ownerID := seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())
	prop := seedProperty(t, store, ownerID, "L-1")

	for i := 0; i < 2; i++ {
		if _, err := svc.SyncReservations(ctx); err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
	}

	res, err := store.GetReservationByExternalID(ctx, "R-1")
	if err != nil || res == nil {
		t.Fatalf("reservation not stored: %v", err)
	}
	if res.PropertyID != prop.ID {
		t.Errorf("property = %s, want %s", res.PropertyID, prop.ID)
	}
	if res.Status != models.ReservationAccepted {
		t.Errorf("status = %q, want accepted (mapped from confirmed)", res.Status)
	}
	if res.Nights != 3 {
		t.Errorf("nights = %d, want 3", res.Nights)
	}

	guest, err := store.GetGuestByExternalID(ctx, "G-1")
	if err != nil || guest == nil {
		t.Fatalf("guest not stored: %v", err)
	}
	if res.GuestID == nil || *res.GuestID != guest.ID {
		t.Errorf("reservation not linked to guest")
	}
}

func TestSyncReservationsUnknownStatusFallsBack(t *testing.T) {
	f := newFakePMS()
	f.paged("/reservations", func(r *http.Request) []map[string]any {
		rec := reservationFixture(r.URL.Query().Get("listingId"))
		rec["status"] = "somethingNew"
		return []map[string]any{rec}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	ownerID := seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())
	seedProperty(t, store, ownerID, "L-1")

	stats, err := svc.SyncReservations(ctx)
	if err != nil {
		t.Fatalf("SyncReservations: %v", err)
	}
	if stats.Unmapped != 1 {
		t.Errorf("unmapped = %d, want 1", stats.Unmapped)
	}
	res, _ := store.GetReservationByExternalID(ctx, "R-1")
	if res == nil || res.Status != models.ReservationAccepted {
		t.Fatalf("unknown status should fall back to accepted, got %+v", res)
	}
}

func TestSyncReservationsSkipsMissingDates(t *testing.T) {
	f := newFakePMS()
	f.paged("/reservations", func(r *http.Request) []map[string]any {
		return []map[string]any{
			{"id": "R-bad", "listingId": r.URL.Query().Get("listingId"), "status": "new"},
			reservationFixture(r.URL.Query().Get("listingId")),
		}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	ownerID := seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())
	seedProperty(t, store, ownerID, "L-1")

	stats, err := svc.SyncReservations(ctx)
	if err != nil {
		t.Fatalf("SyncReservations: %v", err)
	}
	if stats.Skipped != 1 || stats.Upserted != 1 {
		t.Errorf("stats = %+v, want 1 skipped 1 upserted", stats)
	}
	if res, _ := store.GetReservationByExternalID(ctx, "R-bad"); res != nil {
		t.Error("dateless reservation must not be stored")
	}
}

func TestSyncReservationsGuestMatchByEmail(t *testing.T) {
	f := newFakePMS()
	f.paged("/reservations", func(r *http.Request) []map[string]any {
		rec := reservationFixture(r.URL.Query().Get("listingId"))
		// Same person, no upstream guest id this time.
		rec["guest"] = map[string]any{"name": "Ana K.", "email": "ana@example.com", "phone": "+385911234"}
		return []map[string]any{rec}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	ownerID := seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())
	seedProperty(t, store, ownerID, "L-1")

	now := time.Now().UTC()
	prior := &models.Guest{ID: uuid.New(), ExternalGuestID: "G-1", Name: "Ana", Email: "ana@example.com", CreatedAt: now, UpdatedAt: now}
	if err := store.UpsertGuest(ctx, prior); err != nil {
		t.Fatalf("seed guest: %v", err)
	}

	if _, err := svc.SyncReservations(ctx); err != nil {
		t.Fatalf("SyncReservations: %v", err)
	}

	guest, err := store.GetGuestByEmail(ctx, "ana@example.com")
	if err != nil || guest == nil {
		t.Fatalf("guest lookup: %v", err)
	}
	if guest.ID != prior.ID {
		t.Error("email match must merge into the existing guest, not create a second row")
	}
	if guest.ExternalGuestID != "G-1" {
		t.Errorf("external id blanked: %q", guest.ExternalGuestID)
	}
	if guest.Phone != "+385911234" {
		t.Errorf("newer phone not filled in: %q", guest.Phone)
	}
}

func TestSyncMessagesImmutable(t *testing.T) {
	content := "original content"
	f := newFakePMS()
	f.paged("/inbox", func(r *http.Request) []map[string]any {
		return []map[string]any{{
			"id": "T-1", "listingId": r.URL.Query().Get("listingId"),
			"messages": []any{
				map[string]any{"id": "M-1", "sentFrom": "guest", "body": content, "createdAt": "2026-08-30T10:00:00Z"},
			},
		}}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	ownerID := seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())
	seedProperty(t, store, ownerID, "L-1")

	stats, err := svc.SyncMessages(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if stats.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", stats.Inserted)
	}

	// Upstream mutates the body; the stored message must not change.
	content = "edited upstream"
	stats, err = svc.SyncMessages(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Inserted != 0 || stats.Duplicates != 1 {
		t.Errorf("stats = %+v, want 0 inserted 1 duplicate", stats)
	}

	thread, err := store.GetThreadByExternalID(ctx, "T-1")
	if err != nil || thread == nil {
		t.Fatalf("thread lookup: %v", err)
	}
	if thread.LastMessageAt == nil || !thread.LastMessageAt.Equal(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("lastMessageAt = %v", thread.LastMessageAt)
	}
}

func TestSyncMessagesFetchesThreadDetail(t *testing.T) {
	f := newFakePMS()
	f.paged("/inbox", func(r *http.Request) []map[string]any {
		// Inbox listing carries no message bodies.
		return []map[string]any{{"id": "T-1", "listingId": r.URL.Query().Get("listingId")}}
	})
	f.object("/inbox/T-1", func(*http.Request) map[string]any {
		return map[string]any{
			"id": "T-1",
			"messages": []any{
				map[string]any{"id": "M-1", "sentFrom": "host", "body": "hi", "createdAt": "2026-08-30T11:00:00Z"},
			},
		}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	ownerID := seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())
	seedProperty(t, store, ownerID, "L-1")

	stats, err := svc.SyncMessages(ctx)
	if err != nil {
		t.Fatalf("SyncMessages: %v", err)
	}
	if stats.Inserted != 1 {
		t.Errorf("inserted = %d, want 1 via thread detail", stats.Inserted)
	}
	if f.calls["/inbox/T-1"] == 0 {
		t.Error("thread detail endpoint never fetched")
	}
}

func TestSyncReviewsLogsOnce(t *testing.T) {
	f := newFakePMS()
	f.paged("/reviews", func(*http.Request) []map[string]any {
		return []map[string]any{
			{"id": 990, "listingMapId": "L-1", "rating": 9.5, "publicReview": "Great"},
			{"id": 991, "listingMapId": "L-1", "rating": 8.0},
		}
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()

	stats, err := svc.SyncReviews(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if stats.New != 2 {
		t.Errorf("new = %d, want 2", stats.New)
	}

	stats, err = svc.SyncReviews(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.New != 0 || stats.Duplicates != 2 {
		t.Errorf("stats = %+v, want all duplicates on re-run", stats)
	}

	seen, err := store.HasEvent(ctx, models.ScopedEventSource(models.EventSourceReview, "testpms"), "990")
	if err != nil || !seen {
		t.Errorf("review 990 not in event log: %v", err)
	}
}

func TestSyncReviewsScopedPerIntegration(t *testing.T) {
	f := newFakePMS()
	f.paged("/reviews", func(*http.Request) []map[string]any {
		return []map[string]any{{"id": 990, "listingMapId": "L-1", "rating": 9.5}}
	})
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	t.Setenv("TEST_PMS_KEY", "secret")
	newSvc := func(integration string) *Service {
		client, err := pms.NewClient(&config.IntegrationConfig{
			ID: integration, BaseURL: srv.URL, APIKeyEnv: "TEST_PMS_KEY",
			APIKeyHeader: "X-ApiKey", PageSize: 100,
		})
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		return NewService(store, client, integration, 10)
	}

	ctx := context.Background()
	// Both providers happen to use review id 990; each integration must
	// record its own event.
	for _, integration := range []string{"alpha", "beta"} {
		stats, err := newSvc(integration).SyncReviews(ctx)
		if err != nil {
			t.Fatalf("%s pass: %v", integration, err)
		}
		if stats.New != 1 || stats.Duplicates != 0 {
			t.Errorf("%s stats = %+v, want one new review", integration, stats)
		}
		seen, err := store.HasEvent(ctx, models.ScopedEventSource(models.EventSourceReview, integration), "990")
		if err != nil || !seen {
			t.Errorf("%s review 990 not in event log: %v", integration, err)
		}
	}
}

func TestSyncReservationsIsolatesBrokenListing(t *testing.T) {
	f := newFakePMS()
	f.mux.HandleFunc("/reservations", func(w http.ResponseWriter, r *http.Request) {
		listing := r.URL.Query().Get("listingId")
		if listing == "L-broken" {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		var out []map[string]any
		if r.URL.Query().Get("page") == "1" {
			out = append(out, reservationFixture(listing))
		}
		json.NewEncoder(w).Encode(map[string]any{"data": out})
	})

	svc, store := newTestService(t, f.mux)
	ctx := context.Background()
	ownerID := seedOwner(t, store, models.RoleAdmin, "admin@example.com", time.Now().UTC())
	seedProperty(t, store, ownerID, "L-broken")
	seedProperty(t, store, ownerID, "L-1")

	stats, err := svc.SyncReservations(ctx)
	if err == nil {
		t.Fatal("want partial-failure error")
	}
	if stats.Upserted != 1 {
		t.Errorf("healthy listing not synced despite broken sibling: %+v", stats)
	}
}

func TestContentHashIgnoresNonMarketingFields(t *testing.T) {
	base := map[string]any{"id": "L-1", "externalListingName": "Loft", "description": "Nice", "personCapacity": 2}
	changedCapacity := map[string]any{"id": "L-1", "externalListingName": "Loft", "description": "Nice", "personCapacity": 6}
	changedTitle := map[string]any{"id": "L-1", "externalListingName": "Loft Deluxe", "description": "Nice"}

	hash := func(rec map[string]any) string {
		l, err := normalize.NormalizeListing(rec)
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		return ContentHash(l)
	}

	if hash(base) != hash(changedCapacity) {
		t.Error("capacity change must not change the content hash")
	}
	if hash(base) == hash(changedTitle) {
		t.Error("title change must change the content hash")
	}
}
