// Package mockboard provides a mock clipboard implementation for testing.
package mockboard

import (
	"bytes"
	"io"
	"sync"
)

// MockClipboard implements clipboard.ImageClipboard in memory
type MockClipboard struct {
	mu    sync.Mutex
	data  []byte
	image []byte
}

// New creates a new MockClipboard instance
func New() *MockClipboard {
	return &MockClipboard{}
}

// Read implements Clipboard.Read for MockClipboard
func (m *MockClipboard) Read() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.GetData())), nil
}

// Write replaces the text content and clears any image, like a real copy.
func (m *MockClipboard) Write(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.image = nil
	return nil
}

// ReadImage returns the PNG content, nil when none.
func (m *MockClipboard) ReadImage() ([]byte, error) {
	return m.GetImage(), nil
}

// WriteImage replaces the clipboard with a PNG image.
func (m *MockClipboard) WriteImage(png []byte) error {
	m.SetImage(png)
	return nil
}

// SetData sets the mock clipboard data directly (for testing)
func (m *MockClipboard) SetData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
}

// GetData returns the current clipboard data (for testing)
func (m *MockClipboard) GetData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// SetImage sets the image content directly (for testing)
func (m *MockClipboard) SetImage(png []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = png
}

// GetImage returns the current image content (for testing)
func (m *MockClipboard) GetImage() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.image
}

// IsSupported always returns true for the mock clipboard
func (m *MockClipboard) IsSupported() bool {
	return true
}
