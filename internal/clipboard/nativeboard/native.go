// Package nativeboard implements the clipboard through the platform's
// native API, carrying both text and PNG images.
package nativeboard

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"golang.design/x/clipboard"
)

// NativeClipboard implements clipboard.ImageClipboard with golang.design/x/clipboard.
type NativeClipboard struct {
	once    sync.Once
	initErr error
}

// New creates a NativeClipboard. The platform clipboard is initialized on first use.
func New() *NativeClipboard {
	return &NativeClipboard{}
}

func (n *NativeClipboard) init() error {
	n.once.Do(func() {
		if err := clipboard.Init(); err != nil {
			n.initErr = fmt.Errorf("failed to initialize clipboard: %w", err)
		}
	})
	return n.initErr
}

// IsSupported reports whether the native clipboard could be initialized.
func (n *NativeClipboard) IsSupported() bool {
	return n.init() == nil
}

// Read returns the text content.
func (n *NativeClipboard) Read() (io.ReadCloser, error) {
	if err := n.init(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(clipboard.Read(clipboard.FmtText))), nil
}

// Write replaces the clipboard with text.
func (n *NativeClipboard) Write(r io.Reader) error {
	if err := n.init(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	clipboard.Write(clipboard.FmtText, data)
	return nil
}

// ReadImage returns the PNG content, nil when the clipboard holds no image.
func (n *NativeClipboard) ReadImage() ([]byte, error) {
	if err := n.init(); err != nil {
		return nil, err
	}
	return clipboard.Read(clipboard.FmtImage), nil
}

// WriteImage replaces the clipboard with a PNG image.
func (n *NativeClipboard) WriteImage(png []byte) error {
	if err := n.init(); err != nil {
		return err
	}
	clipboard.Write(clipboard.FmtImage, png)
	return nil
}
