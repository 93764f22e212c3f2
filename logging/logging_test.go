package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotationKeepsBackupGenerations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := newRotatingWriter(path, 32, 2)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	for i := 0; i < 4; i++ {
		line := strings.Repeat(string(rune('a'+i)), 40) + "\n"
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	// Each write overflows the cap, so the last two generations survive.
	one, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup 1: %v", err)
	}
	if !strings.HasPrefix(string(one), "dddd") {
		t.Errorf("backup 1 = %q, want the newest rotated batch", string(one[:4]))
	}
	two, err := os.ReadFile(path + ".2")
	if err != nil {
		t.Fatalf("read backup 2: %v", err)
	}
	if !strings.HasPrefix(string(two), "cccc") {
		t.Errorf("backup 2 = %q, want the older batch", string(two[:4]))
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("generations past the backup count must fall off")
	}

	live, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read live file: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("live file has %d bytes after rotation, want 0", len(live))
	}
}

func TestOversizedFileRotatesAtOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 100)), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := newRotatingWriter(path, 32, 1)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("oversized file was not preserved as a backup: %v", err)
	}
	if len(backup) != 100 {
		t.Errorf("backup has %d bytes, want 100", len(backup))
	}
	if info, err := os.Stat(path); err != nil || info.Size() != 0 {
		t.Errorf("live file not reset: %v, %v", info, err)
	}
}
