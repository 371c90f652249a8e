// Package sysboard implements system clipboard operations using platform-specific commands.
// On macOS it uses pbcopy/pbpaste, on Linux wl-clipboard, xclip or xsel, whichever is installed.
package sysboard

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
)

type command struct {
	name string
	args []string
}

// backend is a read/write command pair for one clipboard tool.
type backend struct {
	read  command
	write command
}

var backends = map[string][]backend{
	"darwin": {
		{read: command{"pbpaste", nil}, write: command{"pbcopy", nil}},
	},
	"linux": {
		{read: command{"wl-paste", []string{"--no-newline"}}, write: command{"wl-copy", nil}},
		{read: command{"xclip", []string{"-selection", "clipboard", "-o"}}, write: command{"xclip", []string{"-selection", "clipboard"}}},
		{read: command{"xsel", []string{"--clipboard", "--output"}}, write: command{"xsel", []string{"--clipboard", "--input"}}},
	},
}

// SystemClipboard implements Clipboard using system commands
type SystemClipboard struct {
	goos     string
	lookPath func(string) (string, error)
}

// New creates a new SystemClipboard instance
func New() *SystemClipboard {
	return newFor(runtime.GOOS, exec.LookPath)
}

func newFor(goos string, lookPath func(string) (string, error)) *SystemClipboard {
	return &SystemClipboard{goos: goos, lookPath: lookPath}
}

// available returns the installed backends in preference order.
func (s *SystemClipboard) available() []backend {
	var found []backend
	for _, b := range backends[s.goos] {
		if _, err := s.lookPath(b.read.name); err != nil {
			continue
		}
		if _, err := s.lookPath(b.write.name); err != nil {
			continue
		}
		found = append(found, b)
	}
	return found
}

// IsSupported returns true if clipboard operations are supported on this system
func (s *SystemClipboard) IsSupported() bool {
	return len(s.available()) > 0
}

// Read implements Clipboard.Read for SystemClipboard
func (s *SystemClipboard) Read() (io.ReadCloser, error) {
	found := s.available()
	if len(found) == 0 {
		return nil, fmt.Errorf("clipboard operations not supported on %s", s.goos)
	}

	var lastErr error
	for _, b := range found {
		reader, err := readWithCommand(b.read.name, b.read.args...)
		if err == nil {
			return reader, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to read clipboard: %w", lastErr)
}

// Write implements Clipboard.Write for SystemClipboard
func (s *SystemClipboard) Write(r io.Reader) error {
	found := s.available()
	if len(found) == 0 {
		return fmt.Errorf("clipboard operations not supported on %s", s.goos)
	}

	// buffered so a failed tool can be retried with the next one
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	var lastErr error
	for _, b := range found {
		err := writeWithCommand(bytes.NewReader(data), b.write.name, b.write.args...)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to write clipboard: %w", lastErr)
}

// cmdReadCloser wraps a command's stdout and ensures the command is waited on when closed
type cmdReadCloser struct {
	stdout io.ReadCloser
	cmd    *exec.Cmd
}

func (c *cmdReadCloser) Read(p []byte) (n int, err error) {
	return c.stdout.Read(p)
}

func (c *cmdReadCloser) Close() error {
	if err := c.stdout.Close(); err != nil {
		c.cmd.Wait()
		return err
	}

	if runtime.GOOS != "windows" {
		c.cmd.Process.Signal(os.Interrupt)
	}
	return c.cmd.Wait()
}

// readWithCommand executes a command and returns its output as a stream
func readWithCommand(name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &cmdReadCloser{stdout: stdout, cmd: cmd}, nil
}

// writeWithCommand executes a command with data as stdin
func writeWithCommand(r io.Reader, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = r

	return cmd.Run()
}
