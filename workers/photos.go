// Package workers holds the background workers that run beside the sync
// routines.
package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"staysync/models"
	"staysync/storage"
)

const maxPhotoBytes = 50 * 1024 * 1024

// Uploader stores mirrored photo bytes in object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// PhotoWorker drains the photo mirror queue: download the upstream photo,
// hash it, upload it under a content-addressed key. Upstream photo URLs
// expire, so mirroring runs close behind the listings sync that enqueues
// them.
type PhotoWorker struct {
	store      storage.Store
	uploader   Uploader
	httpClient *http.Client
	triggerCh  chan struct{}
}

func NewPhotoWorker(store storage.Store, uploader Uploader) *PhotoWorker {
	return &PhotoWorker{
		store:    store,
		uploader: uploader,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate batch outside the normal interval.
func (w *PhotoWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run processes queued photos every interval until the context ends.
func (w *PhotoWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Photo worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.triggerCh:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *PhotoWorker) processBatch(ctx context.Context, batchSize int) {
	photos, err := w.store.PendingPhotos(ctx, batchSize)
	if err != nil {
		log.Printf("Photo worker: query error: %v", err)
		return
	}
	if len(photos) == 0 {
		return
	}

	log.Printf("Photo worker: processing %d items", len(photos))

	var mirrored, failed int
	for i := range photos {
		p := &photos[i]
		key, hash, size, err := w.mirror(ctx, p)
		if err != nil {
			log.Printf("Photo worker: %s failed: %v", p.URL, err)
			if markErr := w.store.MarkPhotoFailed(ctx, p.URL); markErr != nil {
				log.Printf("Photo worker: mark failed error: %v", markErr)
			}
			failed++
			continue
		}
		if err := w.store.MarkPhotoMirrored(ctx, p.URL, key, hash, size); err != nil {
			log.Printf("Photo worker: mark mirrored error: %v", err)
			continue
		}
		mirrored++
	}

	log.Printf("Photo worker: batch done, %d mirrored, %d failed", mirrored, failed)
}

// mirror downloads one photo and uploads it, returning the object key,
// content hash, and size.
func (w *PhotoWorker) mirror(ctx context.Context, p *models.PhotoMirror) (string, string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.URL, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return "", "", 0, fmt.Errorf("read body: %w", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ext := guessExtension(p.URL, resp.Header.Get("Content-Type"))
	key := fmt.Sprintf("photos/%s/%s/%s%s", p.PropertyID, hash[:2], hash, ext)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", "", 0, fmt.Errorf("upload: %w", err)
	}

	return key, hash, int64(len(data)), nil
}

// guessExtension determines the file extension from the URL, falling back to
// the content type.
func guessExtension(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}
