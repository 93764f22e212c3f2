package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"staysync/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetDefaultOwnerPicksEarliestElevated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	users := []models.User{
		{ID: uuid.New(), Email: "staff@example.com", Role: models.RoleStaff, CreatedAt: base},
		{ID: uuid.New(), Email: "owner@example.com", Role: models.RoleOwner, CreatedAt: base.Add(2 * time.Hour)},
		{ID: uuid.New(), Email: "admin@example.com", Role: models.RoleAdmin, CreatedAt: base.Add(3 * time.Hour)},
	}
	for i := range users {
		if err := store.CreateUser(ctx, &users[i]); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	owner, err := store.GetDefaultOwner(ctx)
	if err != nil {
		t.Fatalf("GetDefaultOwner: %v", err)
	}
	if owner == nil || owner.Email != "owner@example.com" {
		t.Errorf("owner = %+v, want earliest elevated user", owner)
	}
}

func TestGetDefaultOwnerNilWhenNone(t *testing.T) {
	store := openTestStore(t)
	owner, err := store.GetDefaultOwner(context.Background())
	if err != nil {
		t.Fatalf("GetDefaultOwner: %v", err)
	}
	if owner != nil {
		t.Errorf("owner = %+v, want nil", owner)
	}
}

func TestUpsertPropertyKeepsFilledFields(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &models.Property{
		ID: uuid.New(), ExternalListingID: "L-1", OwnerID: uuid.New(),
		Name: "Loft", Address: "12 Harbour St", City: "Split",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.UpsertProperty(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Second sync comes back without an address; the stored one survives.
	update := *p
	update.Address = ""
	update.Name = "Loft (renamed)"
	if err := store.UpsertProperty(ctx, &update); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetPropertyByListingID(ctx, "L-1")
	if err != nil || got == nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Name != "Loft (renamed)" {
		t.Errorf("name = %q", got.Name)
	}
	if got.Address != "12 Harbour St" {
		t.Errorf("address = %q, blank update must not clear it", got.Address)
	}
}

func TestSnapshotDuplicateHashIgnored(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	propID := uuid.New()

	snap := &models.ListingSnapshot{
		PropertyID: propID, ContentHash: "abc123", Title: "v1",
		CapturedAt: time.Now().UTC(),
	}
	if err := store.CreateSnapshot(ctx, snap); err != nil {
		t.Fatalf("first: %v", err)
	}
	// Same hash again is silently ignored.
	dup := *snap
	dup.Title = "v1-redelivered"
	if err := store.CreateSnapshot(ctx, &dup); err != nil {
		t.Fatalf("duplicate: %v", err)
	}

	second := &models.ListingSnapshot{
		PropertyID: propID, ContentHash: "def456", Title: "v2",
		CapturedAt: time.Now().UTC().Add(time.Minute),
	}
	if err := store.CreateSnapshot(ctx, second); err != nil {
		t.Fatalf("second: %v", err)
	}

	latest, err := store.LatestSnapshot(ctx, propID)
	if err != nil || latest == nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ContentHash != "def456" || latest.Title != "v2" {
		t.Errorf("latest = %+v", latest)
	}
}

func TestRecordEventDeduplicatesPerSource(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	fresh, err := store.RecordEvent(ctx, models.EventSourceWebhook, "msg-1", "new_message", nil)
	if err != nil || !fresh {
		t.Fatalf("first insert: fresh=%v err=%v", fresh, err)
	}
	fresh, err = store.RecordEvent(ctx, models.EventSourceWebhook, "msg-1", "new_message", nil)
	if err != nil || fresh {
		t.Fatalf("duplicate insert: fresh=%v err=%v", fresh, err)
	}

	// Same external id under a different source is a distinct event.
	fresh, err = store.RecordEvent(ctx, models.EventSourceReview, "msg-1", "review", nil)
	if err != nil || !fresh {
		t.Fatalf("cross-source insert: fresh=%v err=%v", fresh, err)
	}
}

func TestHealthFailureCounterResetsOnSuccess(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, err := store.RecordHealthFailure(ctx, "acme:listings", "boom")
		if err != nil {
			t.Fatalf("failure %d: %v", want, err)
		}
		if n != want {
			t.Errorf("failures = %d, want %d", n, want)
		}
	}

	if err := store.RecordHealthSuccess(ctx, "acme:listings", []byte(`{"fetched":10}`)); err != nil {
		t.Fatalf("success: %v", err)
	}

	h, err := store.GetIntegrationHealth(ctx, "acme:listings")
	if err != nil || h == nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != models.HealthHealthy || h.ConsecutiveFailures != 0 {
		t.Errorf("health = %+v, want healthy with counter reset", h)
	}
	if h.LastFailureAt == nil {
		t.Error("failure history lost on recovery")
	}
}

func TestPendingPhotosExcludesExhausted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.EnqueuePhoto(ctx, uuid.New(), "https://img/a.jpg"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Re-enqueueing the same URL is a no-op.
	if err := store.EnqueuePhoto(ctx, uuid.New(), "https://img/a.jpg"); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	photos, err := store.PendingPhotos(ctx, 10)
	if err != nil || len(photos) != 1 {
		t.Fatalf("pending = %d (%v), want 1", len(photos), err)
	}

	for i := 0; i < 5; i++ {
		if err := store.MarkPhotoFailed(ctx, "https://img/a.jpg"); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}

	photos, err = store.PendingPhotos(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(photos) != 0 {
		t.Errorf("exhausted photo still pending: %+v", photos)
	}
}

func TestInsertMessageIfAbsentImmutable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	threadID := uuid.New()
	now := time.Now().UTC()

	m := &models.Message{
		ID: uuid.New(), ExternalMessageID: "M-1", ThreadID: threadID,
		Sender: models.SenderGuest, Content: "original", SentAt: now, CreatedAt: now,
	}
	created, err := store.InsertMessageIfAbsent(ctx, m)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	edited := *m
	edited.ID = uuid.New()
	edited.Content = "edited"
	created, err = store.InsertMessageIfAbsent(ctx, &edited)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Error("redelivered message must not create a second row")
	}
}
