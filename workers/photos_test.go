package workers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"staysync/storage"
)

type memUploader struct {
	objects map[string][]byte
}

func (u *memUploader) Upload(_ context.Context, key string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if u.objects == nil {
		u.objects = make(map[string][]byte)
	}
	u.objects[key] = b
	return nil
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPhotoWorkerMirrorsQueuedPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	ctx := context.Background()
	propID := uuid.New()
	if err := store.EnqueuePhoto(ctx, propID, srv.URL+"/a.jpg"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	up := &memUploader{}
	w := NewPhotoWorker(store, up)
	w.processBatch(ctx, 10)

	if len(up.objects) != 1 {
		t.Fatalf("uploaded %d objects, want 1", len(up.objects))
	}
	for key := range up.objects {
		if !strings.HasPrefix(key, "photos/"+propID.String()+"/") || !strings.HasSuffix(key, ".jpg") {
			t.Errorf("object key = %q", key)
		}
	}

	pending, err := store.PendingPhotos(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("queue not drained: %+v", pending)
	}
}

func TestPhotoWorkerFailureRetriesThenGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	store := newTestStore(t)
	ctx := context.Background()
	if err := store.EnqueuePhoto(ctx, uuid.New(), srv.URL+"/expired.jpg"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := NewPhotoWorker(store, &memUploader{})
	for i := 0; i < 6; i++ {
		w.processBatch(ctx, 10)
	}

	// After the attempt cap the photo leaves the pending queue for good.
	pending, err := store.PendingPhotos(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("failed photo still pending after cap: %+v", pending)
	}
}

func TestGuessExtension(t *testing.T) {
	cases := []struct {
		url, contentType, want string
	}{
		{"https://img.example.com/a.PNG", "", ".png"},
		{"https://img.example.com/a.jpg?sig=abc", "", ".jpg"},
		{"https://img.example.com/photo", "image/webp", ".webp"},
		{"https://img.example.com/photo", "", ".jpg"},
	}
	for _, c := range cases {
		if got := guessExtension(c.url, c.contentType); got != c.want {
			t.Errorf("guessExtension(%q, %q) = %q, want %q", c.url, c.contentType, got, c.want)
		}
	}
}

func TestTriggerDoesNotBlock(t *testing.T) {
	w := NewPhotoWorker(newTestStore(t), &memUploader{})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Trigger()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked")
	}
}
