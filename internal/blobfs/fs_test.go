package blobfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/store"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	bfs, err := NewWithRoot(t.TempDir(), Options{DeleteConcurrency: 2})
	if err != nil {
		t.Fatalf("NewWithRoot failed: %v", err)
	}
	return bfs
}

func TestResolveDataDir(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)

	abs := filepath.Join(tempDir, "abs")
	if got, _ := ResolveDataDir(abs); got != abs {
		t.Errorf("absolute: got %s, want %s", got, abs)
	}

	got, err := ResolveDataDir("")
	if err != nil {
		t.Fatalf("ResolveDataDir(\"\") failed: %v", err)
	}
	if want := filepath.Join(tempDir, ConfigDir); got != want {
		t.Errorf("default: got %s, want %s", got, want)
	}

	got, _ = ResolveDataDir("custom")
	if want := filepath.Join(tempDir, ConfigDir, "custom"); got != want {
		t.Errorf("relative: got %s, want %s", got, want)
	}
}

func TestNewWithRoot_CreatesDirectories(t *testing.T) {
	bfs := newTestFS(t)

	for _, dir := range []string{BlobDir, ThumbnailDir, SpoolDir} {
		if _, err := os.Stat(filepath.Join(bfs.Root(), dir)); err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
		}
	}
	if bfs.DBPath() != filepath.Join(bfs.Root(), DBFile) {
		t.Errorf("unexpected DBPath %s", bfs.DBPath())
	}
}

func TestWriteAndReadBlob(t *testing.T) {
	bfs := newTestFS(t)

	if err := bfs.WriteBlob("1.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteBlob failed: %v", err)
	}
	data, err := bfs.ReadBlob("1.txt")
	if err != nil {
		t.Fatalf("ReadBlob failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadBlob = %q, want %q", data, "hello")
	}

	// Overwrite replaces content and leaves no temp files behind
	if err := bfs.WriteBlob("1.txt", []byte("bye")); err != nil {
		t.Fatalf("WriteBlob overwrite failed: %v", err)
	}
	entries, _ := os.ReadDir(bfs.BlobRoot())
	if len(entries) != 1 {
		t.Errorf("expected exactly one file, got %d", len(entries))
	}
}

func TestResolveBlob_RejectsUnsafeNames(t *testing.T) {
	bfs := newTestFS(t)

	outside := filepath.Join(t.TempDir(), "secret")
	os.WriteFile(outside, []byte("secret"), 0644)
	if err := os.Symlink(outside, filepath.Join(bfs.BlobRoot(), "9.txt")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	tests := []string{
		"../secret",
		"/etc/passwd",
		"abc.txt",
		"1.TXT",
		"1",
		"9.txt", // symlink
		"404.txt",
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := bfs.ResolveBlob(name)
			if !errors.Is(err, errors.KindFileOperationFailed) {
				t.Errorf("ResolveBlob(%q) error = %v, want FILE_OPERATION_FAILED", name, err)
			}
		})
	}

	if err := bfs.WriteBlob("../2.txt", []byte("x")); err == nil {
		t.Error("expected WriteBlob to reject traversal")
	}
}

func TestMoveBlob(t *testing.T) {
	bfs := newTestFS(t)

	f, err := bfs.NewSpoolFile("capture-1")
	if err != nil {
		t.Fatalf("NewSpoolFile failed: %v", err)
	}
	f.WriteString("large payload")
	f.Close()

	if err := bfs.MoveBlob("3.bin", f.Name()); err != nil {
		t.Fatalf("MoveBlob failed: %v", err)
	}
	if _, err := os.Stat(f.Name()); !os.IsNotExist(err) {
		t.Error("spooled file should be gone after move")
	}
	data, _ := bfs.ReadBlob("3.bin")
	if string(data) != "large payload" {
		t.Errorf("moved content = %q", data)
	}
}

func TestDeleteBlobs_ToleratesMissing(t *testing.T) {
	bfs := newTestFS(t)

	bfs.WriteBlob("1.txt", []byte("a"))
	bfs.WriteBlob("2.txt", []byte("b"))

	removed := bfs.DeleteBlobs(context.Background(), []string{"1.txt", "2.txt", "3.txt", "../x"})
	if removed != 3 {
		t.Errorf("removed = %d, want 3 (missing counts as success, invalid does not)", removed)
	}
	entries, _ := os.ReadDir(bfs.BlobRoot())
	if len(entries) != 0 {
		t.Errorf("expected empty blob dir, got %d entries", len(entries))
	}
}

func TestThumbnailPath(t *testing.T) {
	bfs := newTestFS(t)

	path, err := bfs.ThumbnailPath("abc123")
	if err != nil {
		t.Fatalf("ThumbnailPath failed: %v", err)
	}
	if path != filepath.Join(bfs.Root(), ThumbnailDir, "abc123.png") {
		t.Errorf("unexpected path %s", path)
	}
	if _, err := bfs.ThumbnailPath("../../etc"); err == nil {
		t.Error("expected invalid hash to be rejected")
	}
}

func TestSweepOrphans(t *testing.T) {
	bfs := newTestFS(t)
	ctx := context.Background()

	bfs.WriteBlob("1.png", []byte("kept"))
	bfs.WriteBlob("2.png", []byte("orphan"))
	bfs.WriteThumbnail("h1", []byte("png"))
	bfs.WriteThumbnail("gone", []byte("png"))
	os.WriteFile(filepath.Join(bfs.BlobRoot(), tempPrefix+"stale"), []byte("x"), 0644)

	refs := &store.References{
		StorageRefs:   map[string]struct{}{"1.png": {}},
		ContentHashes: map[string]struct{}{"h1": {}},
	}
	report, err := bfs.SweepOrphans(ctx, refs)
	if err != nil {
		t.Fatalf("SweepOrphans failed: %v", err)
	}
	if report.Blobs != 1 || report.Thumbnails != 1 || report.TempFiles != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	var left []string
	for _, dir := range []string{bfs.BlobRoot(), filepath.Join(bfs.Root(), ThumbnailDir)} {
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			left = append(left, e.Name())
		}
	}
	if strings.Join(left, ",") != "1.png,h1.png" {
		t.Errorf("remaining files = %v", left)
	}
}

func TestSweepOrphans_RespectsGrace(t *testing.T) {
	bfs, err := NewWithRoot(t.TempDir(), Options{SweepGrace: time.Hour})
	if err != nil {
		t.Fatalf("NewWithRoot failed: %v", err)
	}
	bfs.WriteBlob("5.txt", []byte("fresh"))

	report, err := bfs.SweepOrphans(context.Background(), &store.References{})
	if err != nil {
		t.Fatalf("SweepOrphans failed: %v", err)
	}
	if report.Blobs != 0 {
		t.Errorf("fresh blob should survive the sweep, report %+v", report)
	}
}

func TestSweepOrphans_Spool(t *testing.T) {
	bfs, err := NewWithRoot(t.TempDir(), Options{SweepGrace: time.Hour})
	if err != nil {
		t.Fatalf("NewWithRoot failed: %v", err)
	}

	stale, err := bfs.NewSpoolFile("stale.part")
	if err != nil {
		t.Fatalf("NewSpoolFile failed: %v", err)
	}
	stale.WriteString("abandoned capture")
	stale.Close()
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale.Name(), old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	fresh, err := bfs.NewSpoolFile("fresh.part")
	if err != nil {
		t.Fatalf("NewSpoolFile failed: %v", err)
	}
	fresh.Close()

	report, err := bfs.SweepOrphans(context.Background(), &store.References{})
	if err != nil {
		t.Fatalf("SweepOrphans failed: %v", err)
	}
	if report.TempFiles != 1 {
		t.Errorf("TempFiles = %d, want 1", report.TempFiles)
	}
	if _, err := os.Stat(stale.Name()); !os.IsNotExist(err) {
		t.Error("stale spool file should be removed")
	}
	if _, err := os.Stat(fresh.Name()); err != nil {
		t.Errorf("fresh spool file should survive: %v", err)
	}
}

func TestStageAndCommitBlob(t *testing.T) {
	bfs := newTestFS(t)

	staged, err := bfs.StageData([]byte("payload"))
	if err != nil {
		t.Fatalf("StageData failed: %v", err)
	}
	if filepath.Dir(staged) != bfs.BlobRoot() || !strings.HasPrefix(filepath.Base(staged), tempPrefix) {
		t.Fatalf("staged path %s should be a temp file in the blob root", staged)
	}
	if _, err := bfs.ReadBlob("7.txt"); err == nil {
		t.Fatal("blob should not be visible before commit")
	}

	if err := bfs.CommitBlob(staged, "7.txt"); err != nil {
		t.Fatalf("CommitBlob failed: %v", err)
	}
	data, err := bfs.ReadBlob("7.txt")
	if err != nil || string(data) != "payload" {
		t.Errorf("ReadBlob = %q, %v", data, err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staged file should be renamed away")
	}
}

func TestCommitBlob_Rejects(t *testing.T) {
	bfs := newTestFS(t)

	staged, err := bfs.StageData([]byte("x"))
	if err != nil {
		t.Fatalf("StageData failed: %v", err)
	}
	if err := bfs.CommitBlob(staged, "../8.txt"); !errors.Is(err, errors.KindFileOperationFailed) {
		t.Errorf("invalid name: err = %v", err)
	}
	outside := filepath.Join(t.TempDir(), tempPrefix+"x")
	os.WriteFile(outside, []byte("x"), 0644)
	if err := bfs.CommitBlob(outside, "8.txt"); err == nil {
		t.Error("expected staged path outside the blob root to be rejected")
	}

	bfs.DiscardStaged(staged)
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("DiscardStaged should remove the file")
	}
	bfs.DiscardStaged(staged)
}

func TestStageFile_MovesSpool(t *testing.T) {
	bfs := newTestFS(t)

	f, err := bfs.NewSpoolFile("capture-2")
	if err != nil {
		t.Fatalf("NewSpoolFile failed: %v", err)
	}
	f.WriteString("spooled")
	f.Close()

	staged, err := bfs.StageFile(f.Name())
	if err != nil {
		t.Fatalf("StageFile failed: %v", err)
	}
	if _, err := os.Stat(f.Name()); !os.IsNotExist(err) {
		t.Error("spool file should be moved")
	}
	data, _ := os.ReadFile(staged)
	if string(data) != "spooled" {
		t.Errorf("staged content = %q", data)
	}
}
