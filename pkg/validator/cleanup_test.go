package validator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCleanupRemovesUnclaimedFiles(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "claimed.cer"), "claimed")
	mustWrite(t, filepath.Join(dir, "orphan.roa"), "orphan")

	w := NewWalker(NewAuthTree(), NewCRLTree(), &fakeRepos{}, &fakeQueue{})
	w.Seen[dir] = map[string]bool{"claimed.cer": true}

	files, _, err := w.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if files != 1 {
		t.Errorf("expected 1 file deleted, got %d", files)
	}
	if _, err := os.Stat(filepath.Join(dir, "orphan.roa")); !os.IsNotExist(err) {
		t.Error("expected orphan.roa to be removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "claimed.cer")); err != nil {
		t.Error("expected claimed.cer to survive cleanup")
	}
}

func TestCleanupRemovesEmptyDirsBottomUp(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mustWrite(t, filepath.Join(sub, "orphan.crl"), "orphan")

	w := NewWalker(NewAuthTree(), NewCRLTree(), &fakeRepos{}, &fakeQueue{})
	w.Seen[dir] = map[string]bool{}

	files, dirs, err := w.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if files != 1 || dirs != 1 {
		t.Errorf("expected 1 file and 1 dir deleted, got files=%d dirs=%d", files, dirs)
	}
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Error("expected sub to be removed")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("root repository directory must survive cleanup")
	}
}

func TestCleanupToleratesMissingDirectory(t *testing.T) {
	w := NewWalker(NewAuthTree(), NewCRLTree(), &fakeRepos{}, &fakeQueue{})
	w.Seen[filepath.Join(t.TempDir(), "gone")] = map[string]bool{}

	files, dirs, err := w.Cleanup()
	if err != nil || files != 0 || dirs != 0 {
		t.Errorf("expected a no-op for a missing directory, got files=%d dirs=%d err=%v", files, dirs, err)
	}
}

func mustWrite(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
