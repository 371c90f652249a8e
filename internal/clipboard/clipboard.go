// Package clipboard defines the clipboard backend contract shared by the
// capture producer and copy-out. Backends live in subpackages.
package clipboard

import (
	"bytes"
	"fmt"
	"io"

	"github.com/yiblet/clipvault/internal/store"
)

// Clipboard reads and writes the text representation of a clipboard.
type Clipboard interface {
	Read() (io.ReadCloser, error)
	Write(r io.Reader) error
	IsSupported() bool
}

// ImageClipboard is implemented by backends that also carry PNG images.
type ImageClipboard interface {
	Clipboard
	ReadImage() ([]byte, error)
	WriteImage(png []byte) error
}

// Snapshot is one read of the clipboard.
type Snapshot struct {
	Data []byte

	// Image is set when Data holds PNG bytes.
	Image bool
}

// ReadSnapshot reads the clipboard, preferring an image when the backend
// has one and falling back to text.
func ReadSnapshot(c Clipboard) (Snapshot, error) {
	if ic, ok := c.(ImageClipboard); ok {
		img, err := ic.ReadImage()
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read clipboard image: %w", err)
		}
		if len(img) > 0 {
			return Snapshot{Data: img, Image: true}, nil
		}
	}

	r, err := c.Read()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read clipboard: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read clipboard: %w", err)
	}
	return Snapshot{Data: data}, nil
}

// WriteContent puts an item's payload back on the clipboard. Images need
// an ImageClipboard; other types are written as text.
func WriteContent(c Clipboard, t store.ItemType, data []byte) error {
	if t == store.TypeImage {
		ic, ok := c.(ImageClipboard)
		if !ok {
			return fmt.Errorf("clipboard backend cannot hold images")
		}
		return ic.WriteImage(data)
	}
	return c.Write(bytes.NewReader(data))
}
