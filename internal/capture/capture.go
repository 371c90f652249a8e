// Package capture is the ingestion producer: it turns clipboard reads and
// piped input into normalized captures and hands them to the store.
package capture

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/yiblet/clipvault/internal/clipboard"
	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/store"
)

// DefaultInterval is the clipboard polling period of Watch.
const DefaultInterval = 500 * time.Millisecond

// ErrEmpty is returned when there is nothing to capture.
var ErrEmpty = stderrors.New("nothing to capture")

// Ingester stores captures; *history.Manager implements it.
type Ingester interface {
	Ingest(ctx context.Context, content store.ClipboardContent) (*store.StoredItem, error)
}

// Spooler creates files in the capture spool; *blobfs.FS implements it.
type Spooler interface {
	NewSpoolFile(name string) (*os.File, error)
}

// Options configures a Producer.
type Options struct {
	Logger *log.Logger

	// SpoolThreshold is the payload size at and above which content is
	// handed over as a spooled file instead of in memory.
	SpoolThreshold int64

	// AppBundleID tags every capture with its source application.
	AppBundleID string
}

// Producer reads content and feeds it to an Ingester.
type Producer struct {
	clip      clipboard.Clipboard
	sink      Ingester
	spool     Spooler
	threshold int64
	app       string
	log       *log.Logger

	mu       sync.Mutex
	lastHash string
}

// New creates a Producer. clip may be nil when only Capture is used; spool
// may be nil to keep every payload in memory.
func New(clip clipboard.Clipboard, sink Ingester, spool Spooler, opts Options) *Producer {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	threshold := opts.SpoolThreshold
	if threshold <= 0 {
		threshold = history.DefaultInlineThreshold
	}
	return &Producer{
		clip:      clip,
		sink:      sink,
		spool:     spool,
		threshold: threshold,
		app:       opts.AppBundleID,
		log:       lg.WithPrefix("capture"),
	}
}

// Hash returns the content hash used for deduplication.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Build converts raw bytes into a capture. An empty t is sniffed from the data.
func (p *Producer) Build(data []byte, t store.ItemType) (store.ClipboardContent, error) {
	if t == "" {
		t = Sniff(data)
	}

	content := store.ClipboardContent{
		Type:        t,
		PlainText:   PlainText(t, data),
		AppBundleID: p.app,
		ContentHash: Hash(data),
		SizeBytes:   int64(len(data)),
	}

	if p.spool == nil || int64(len(data)) < p.threshold {
		content.Payload = store.InlinePayload(data)
		return content, nil
	}

	path, err := p.spoolData(data)
	if err != nil {
		return store.ClipboardContent{}, err
	}
	content.Payload = store.FilePayload(path)
	return content, nil
}

func (p *Producer) spoolData(data []byte) (string, error) {
	name, err := spoolName()
	if err != nil {
		return "", fmt.Errorf("failed to name spool file: %w", err)
	}

	f, err := p.spool.NewSpoolFile(name)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close spool file: %w", err)
	}
	return f.Name(), nil
}

// spoolName generates a sortable unique spool file name.
func spoolName() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String() + ".part", nil
}

// Capture stores data unconditionally.
func (p *Producer) Capture(ctx context.Context, data []byte, t store.ItemType) (*store.StoredItem, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	content, err := p.Build(data, t)
	if err != nil {
		return nil, err
	}
	item, err := p.sink.Ingest(ctx, content)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.lastHash = content.ContentHash
	p.mu.Unlock()
	return item, nil
}

// Poll reads the clipboard once and stores it if it changed since the last
// capture. It returns a nil item when there was nothing new.
func (p *Producer) Poll(ctx context.Context) (*store.StoredItem, error) {
	if p.clip == nil {
		return nil, fmt.Errorf("no clipboard configured")
	}

	snap, err := clipboard.ReadSnapshot(p.clip)
	if err != nil {
		return nil, err
	}
	if len(snap.Data) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	unchanged := Hash(snap.Data) == p.lastHash
	p.mu.Unlock()
	if unchanged {
		return nil, nil
	}

	var t store.ItemType
	if snap.Image {
		t = store.TypeImage
	}
	return p.Capture(ctx, snap.Data, t)
}

// Watch polls the clipboard every interval until ctx is done, calling
// onItem for each stored capture. Poll failures are logged and retried.
func (p *Producer) Watch(ctx context.Context, interval time.Duration, onItem func(*store.StoredItem)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		item, err := p.Poll(ctx)
		switch {
		case err != nil:
			p.log.Warn("clipboard poll failed", "err", err)
		case item != nil && onItem != nil:
			onItem(item)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
