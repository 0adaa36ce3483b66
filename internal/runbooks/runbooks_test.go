package runbooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeBook(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeBook(t, dir, "DiskSpaceLow.md", "vacuum journals first")
	writeBook(t, dir, "notes.txt", "not a runbook")

	s := New(dir)
	if got := s.ForAlert("DiskSpaceLow"); got != "vacuum journals first" {
		t.Errorf("ForAlert = %q", got)
	}
	// Lookup is case-insensitive.
	if got := s.ForAlert("diskspacelow"); got == "" {
		t.Error("case-insensitive lookup failed")
	}
	if got := s.ForAlert("ServiceDown"); got != "" {
		t.Errorf("unknown alert returned %q", got)
	}
	if names := s.List(); len(names) != 1 || names[0] != "diskspacelow" {
		t.Errorf("List = %v", names)
	}
}

func TestMissingDirectoryIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent"))
	if got := s.ForAlert("Anything"); got != "" {
		t.Errorf("got %q from missing dir", got)
	}
}

func TestOversizedRunbookTruncated(t *testing.T) {
	dir := t.TempDir()
	writeBook(t, dir, "Big.md", strings.Repeat("x", 4*maxRunbookLen))
	s := New(dir)
	if got := len(s.ForAlert("Big")); got > maxRunbookLen {
		t.Errorf("runbook length = %d", got)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx)
	time.Sleep(50 * time.Millisecond) // let the watcher attach

	writeBook(t, dir, "ServiceDown.md", "check systemctl status")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ForAlert("ServiceDown") != "" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("runbook not picked up by watcher")
}
