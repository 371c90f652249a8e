// Package blobfs owns clipvault's on-disk layout: the database file, the
// external blob directory, the thumbnail cache and the capture spool.
package blobfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/store"
)

const (
	ConfigDir    = ".config/clipvault"
	DBFile       = "clipvault.db"
	BlobDir      = "blobs"
	ThumbnailDir = "thumbnails"
	SpoolDir     = "spool"

	tempPrefix = ".tmp-"
)

var (
	blobNamePattern = regexp.MustCompile(`^[0-9]+\.[a-z]+$`)
	hashPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// Options configures an FS.
type Options struct {
	Logger *log.Logger

	// DeleteConcurrency bounds parallel file removals. Defaults to 4.
	DeleteConcurrency int

	// SweepGrace protects files younger than this from the orphan sweep,
	// covering the window between writing a blob and committing its row.
	SweepGrace time.Duration
}

// FS is the set of managed storage roots under one data directory
type FS struct {
	root        string
	blobRoot    string
	thumbRoot   string
	spoolRoot   string
	log         *log.Logger
	concurrency int
	grace       time.Duration
}

// ResolveDataDir maps a configured data_dir to an absolute directory.
// Empty means ~/.config/clipvault; relative paths live under it.
func ResolveDataDir(dataDir string) (string, error) {
	if filepath.IsAbs(dataDir) {
		return dataDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ConfigDir, dataDir), nil
}

// New creates the storage roots under dataDir (see ResolveDataDir).
func New(dataDir string, opts Options) (*FS, error) {
	root, err := ResolveDataDir(dataDir)
	if err != nil {
		return nil, err
	}
	return NewWithRoot(root, opts)
}

// NewWithRoot creates an FS rooted at an explicit directory
func NewWithRoot(root string, opts Options) (*FS, error) {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	concurrency := opts.DeleteConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	bfs := &FS{
		root:        root,
		blobRoot:    filepath.Join(root, BlobDir),
		thumbRoot:   filepath.Join(root, ThumbnailDir),
		spoolRoot:   filepath.Join(root, SpoolDir),
		log:         lg.WithPrefix("blobfs"),
		concurrency: concurrency,
		grace:       opts.SweepGrace,
	}

	for _, dir := range []string{bfs.root, bfs.blobRoot, bfs.thumbRoot, bfs.spoolRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return bfs, nil
}

// Root returns the data directory
func (b *FS) Root() string {
	return b.root
}

// DBPath returns the database file location
func (b *FS) DBPath() string {
	return filepath.Join(b.root, DBFile)
}

// BlobRoot returns the external blob directory
func (b *FS) BlobRoot() string {
	return b.blobRoot
}

// SpoolRoot returns the directory producers spool large captures into.
// It shares a filesystem with the blob root so moves are renames.
func (b *FS) SpoolRoot() string {
	return b.spoolRoot
}

// Open implements fs.FS over the blob root, validating the name first.
func (b *FS) Open(name string) (fs.File, error) {
	path, err := b.ResolveBlob(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// ResolveBlob validates a stored blob name and returns its absolute path.
// The name must be id-derived, must not be a symlink and must resolve
// inside the blob root; anything else fails closed.
func (b *FS) ResolveBlob(name string) (string, error) {
	if !fs.ValidPath(name) || !blobNamePattern.MatchString(name) {
		return "", errors.NewFileOperationFailed("resolve", &fs.PathError{Op: "resolve", Path: name, Err: fs.ErrInvalid})
	}

	path := filepath.Join(b.blobRoot, name)
	info, err := os.Lstat(path)
	if err != nil {
		return "", errors.NewFileOperationFailed("resolve", err)
	}
	if info.Mode()&fs.ModeSymlink != 0 || !info.Mode().IsRegular() {
		return "", errors.NewFileOperationFailed("resolve", &fs.PathError{Op: "resolve", Path: name, Err: fs.ErrPermission})
	}

	realRoot, err := filepath.EvalSymlinks(b.blobRoot)
	if err != nil {
		return "", errors.NewFileOperationFailed("resolve", err)
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errors.NewFileOperationFailed("resolve", err)
	}
	if !strings.HasPrefix(realPath, realRoot+string(filepath.Separator)) {
		return "", errors.NewFileOperationFailed("resolve", &fs.PathError{Op: "resolve", Path: name, Err: fs.ErrPermission})
	}
	return realPath, nil
}

// ReadBlob reads a validated blob into memory
func (b *FS) ReadBlob(name string) ([]byte, error) {
	f, err := b.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.NewFileOperationFailed("read", err)
	}
	return data, nil
}

// WriteBlob atomically writes data under name: the bytes go to a temp file
// in the same directory which is then renamed over the destination.
func (b *FS) WriteBlob(name string, data []byte) error {
	staged, err := b.StageData(data)
	if err != nil {
		return err
	}
	if err := b.CommitBlob(staged, name); err != nil {
		b.DiscardStaged(staged)
		return err
	}
	return nil
}

// MoveBlob moves a spooled file into the blob root under name.
func (b *FS) MoveBlob(name, src string) error {
	staged, err := b.StageFile(src)
	if err != nil {
		return err
	}
	if err := b.CommitBlob(staged, name); err != nil {
		b.DiscardStaged(staged)
		return err
	}
	return nil
}

// StageData writes data to a temp file in the blob root and returns its
// path. The file is invisible to readers until CommitBlob names it; an
// abandoned one is removed by the orphan sweep.
func (b *FS) StageData(data []byte) (string, error) {
	tmp := filepath.Join(b.blobRoot, tempPrefix+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return "", errors.NewFileOperationFailed("stage", err)
	}
	return tmp, nil
}

// StageFile moves a spooled file to a temp name in the blob root. A rename
// is tried first; across filesystems the content is copied and the source
// removed.
func (b *FS) StageFile(src string) (string, error) {
	tmp := filepath.Join(b.blobRoot, tempPrefix+uuid.NewString())
	if err := os.Rename(src, tmp); err == nil {
		return tmp, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", errors.NewFileOperationFailed("stage", err)
	}
	staged, err := b.StageData(data)
	if err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		b.log.Warn("failed to remove spooled file after copy", "path", src, "err", err)
	}
	return staged, nil
}

// CommitBlob renames a staged file to its final blob name.
func (b *FS) CommitBlob(staged, name string) error {
	if !blobNamePattern.MatchString(name) {
		return errors.NewFileOperationFailed("commit", &fs.PathError{Op: "commit", Path: name, Err: fs.ErrInvalid})
	}
	if filepath.Dir(staged) != b.blobRoot || !strings.HasPrefix(filepath.Base(staged), tempPrefix) {
		return errors.NewFileOperationFailed("commit", &fs.PathError{Op: "commit", Path: staged, Err: fs.ErrInvalid})
	}
	if err := os.Rename(staged, filepath.Join(b.blobRoot, name)); err != nil {
		return errors.NewFileOperationFailed("commit", err)
	}
	return nil
}

// DiscardStaged removes a staged file that will not be committed. A
// missing file counts as success.
func (b *FS) DiscardStaged(staged string) {
	if err := removeQuiet(staged); err != nil {
		b.log.Warn("failed to remove staged blob", "path", staged, "err", err)
	}
}

// RemoveBlob deletes one blob. A missing file counts as success.
func (b *FS) RemoveBlob(name string) error {
	if !blobNamePattern.MatchString(name) {
		return errors.NewFileOperationFailed("remove", &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid})
	}
	return removeQuiet(filepath.Join(b.blobRoot, name))
}

// DeleteBlobs removes names with bounded concurrency. Failures are logged
// and never abort the batch; it returns how many names are now absent.
func (b *FS) DeleteBlobs(ctx context.Context, names []string) int {
	return b.removeAll(ctx, names, b.RemoveBlob)
}

// ThumbnailPath returns the cache path of the thumbnail for a content hash.
func (b *FS) ThumbnailPath(hash string) (string, error) {
	if !hashPattern.MatchString(hash) {
		return "", errors.NewFileOperationFailed("thumbnail", &fs.PathError{Op: "thumbnail", Path: hash, Err: fs.ErrInvalid})
	}
	return filepath.Join(b.thumbRoot, hash+".png"), nil
}

// WriteThumbnail stores a PNG thumbnail for hash.
func (b *FS) WriteThumbnail(hash string, png []byte) error {
	if _, err := b.ThumbnailPath(hash); err != nil {
		return err
	}
	if err := writeAtomic(b.thumbRoot, hash+".png", png); err != nil {
		return errors.NewFileOperationFailed("thumbnail", err)
	}
	return nil
}

// RemoveThumbnails deletes the thumbnails for hashes, best effort.
func (b *FS) RemoveThumbnails(ctx context.Context, hashes []string) int {
	return b.removeAll(ctx, hashes, func(hash string) error {
		path, err := b.ThumbnailPath(hash)
		if err != nil {
			return err
		}
		return removeQuiet(path)
	})
}

func (b *FS) removeAll(ctx context.Context, names []string, remove func(string) error) int {
	if len(names) == 0 {
		return 0
	}

	removed := make([]bool, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, name := range names {
		i, name := i, name
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := remove(name); err != nil {
				b.log.Warn("failed to remove file", "name", name, "err", err)
				return nil
			}
			removed[i] = true
			return nil
		})
	}
	g.Wait()

	count := 0
	for _, ok := range removed {
		if ok {
			count++
		}
	}
	return count
}

// SweepReport summarizes one orphan reconciliation.
type SweepReport struct {
	Blobs      int
	Thumbnails int
	TempFiles  int
}

// SweepOrphans removes blob files no row references, thumbnails whose hash
// is gone, abandoned temp files and leftover spool files. Files newer than
// the grace period are left alone.
func (b *FS) SweepOrphans(ctx context.Context, refs *store.References) (SweepReport, error) {
	var report SweepReport
	cutoff := time.Now().Add(-b.grace)

	blobOrphans, blobTemps, err := b.scan(b.blobRoot, cutoff, func(name string) bool {
		_, ok := refs.StorageRefs[name]
		return ok
	})
	if err != nil {
		return report, err
	}
	thumbOrphans, thumbTemps, err := b.scan(b.thumbRoot, cutoff, func(name string) bool {
		_, ok := refs.ContentHashes[strings.TrimSuffix(name, ".png")]
		return ok
	})
	if err != nil {
		return report, err
	}

	spooled, err := b.scanSpool(cutoff)
	if err != nil {
		return report, err
	}

	report.Blobs = b.DeleteBlobs(ctx, blobOrphans)
	report.Thumbnails = b.RemoveThumbnails(ctx, thumbOrphans)

	temps := append(append(blobTemps, thumbTemps...), spooled...)
	report.TempFiles = b.removeAll(ctx, temps, removeQuiet)

	if report.Blobs+report.Thumbnails+report.TempFiles > 0 {
		b.log.Info("orphan sweep", "blobs", report.Blobs, "thumbnails", report.Thumbnails, "temp", report.TempFiles)
	}
	return report, nil
}

// scan lists dir and returns unreferenced entry names and stale temp file paths.
func (b *FS) scan(dir string, cutoff time.Time, referenced func(string) bool) ([]string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.NewFileOperationFailed("sweep", err)
	}

	var orphans, temps []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || (b.grace > 0 && info.ModTime().After(cutoff)) {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, tempPrefix) {
			temps = append(temps, filepath.Join(dir, name))
			continue
		}
		if referenced(name) {
			continue
		}
		if dir == b.thumbRoot {
			orphans = append(orphans, strings.TrimSuffix(name, ".png"))
		} else if blobNamePattern.MatchString(name) {
			orphans = append(orphans, name)
		}
	}
	return orphans, temps, nil
}

// scanSpool returns the spool files older than cutoff. Nothing references
// the spool, so every file that outlived the grace period is abandoned.
func (b *FS) scanSpool(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(b.spoolRoot)
	if err != nil {
		return nil, errors.NewFileOperationFailed("sweep", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || (b.grace > 0 && info.ModTime().After(cutoff)) {
			continue
		}
		paths = append(paths, filepath.Join(b.spoolRoot, entry.Name()))
	}
	return paths, nil
}

// DBBytes returns the on-disk size of the database and its journal files.
func (b *FS) DBBytes() int64 {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, err := os.Stat(b.DBPath() + suffix); err == nil {
			total += info.Size()
		}
	}
	return total
}

// NewSpoolFile creates an empty file in the spool directory.
func (b *FS) NewSpoolFile(name string) (*os.File, error) {
	if !fs.ValidPath(name) || strings.Contains(name, "/") {
		return nil, errors.NewFileOperationFailed("spool", &fs.PathError{Op: "spool", Path: name, Err: fs.ErrInvalid})
	}
	f, err := os.OpenFile(filepath.Join(b.spoolRoot, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewFileOperationFailed("spool", err)
	}
	return f, nil
}

func writeAtomic(dir, name string, data []byte) error {
	tmp := filepath.Join(dir, tempPrefix+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func removeQuiet(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
