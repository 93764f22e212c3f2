// Package logging tees the standard logger to a size-capped file so the
// daemon keeps a local trail without growing unbounded on small hosts.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const (
	defaultMaxSizeMB = 5
	defaultBackups   = 2
)

type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
	backups int
}

// Setup routes the standard logger to stdout and the given file, rotating it
// past maxSizeMB and keeping the given number of backup generations
// (path.1 is the newest). Zero values fall back to defaults.
func Setup(logPath string, maxSizeMB, backups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if backups <= 0 {
		backups = defaultBackups
	}

	rw, err := newRotatingWriter(logPath, int64(maxSizeMB)*1024*1024, backups)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func newRotatingWriter(path string, maxSize int64, backups int) (*RotatingWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	size := int64(0)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	rw := &RotatingWriter{
		file:    f,
		path:    path,
		size:    size,
		maxSize: maxSize,
		backups: backups,
	}
	// A file already past the cap rotates into the backups instead of
	// being truncated away.
	if rw.size > rw.maxSize {
		rw.rotate()
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}
	return n, err
}

// rotate shifts path.N-1 to path.N for each generation, then reopens the
// live file empty. The oldest generation falls off the end.
func (w *RotatingWriter) rotate() {
	w.file.Close()

	for i := w.backups; i >= 1; i-- {
		src := w.path
		if i > 1 {
			src = fmt.Sprintf("%s.%d", w.path, i-1)
		}
		os.Rename(src, fmt.Sprintf("%s.%d", w.path, i))
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}
	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
