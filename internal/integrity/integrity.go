// Package integrity decides whether a file on disk is a corkboard container by
// inspecting its leading bytes. The filename extension is never trusted.
package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the conventional suffix for container files
const Extension = ".cork"

// Magic is the byte prefix every container file starts with
var Magic = []byte("SQLite format 3\x00")

// Result is the outcome of Classify
type Result int

const (
	Unreadable Result = iota
	NotAContainer
	ValidContainer
)

func (r Result) String() string {
	switch r {
	case ValidContainer:
		return "valid_container"
	case NotAContainer:
		return "not_a_container"
	default:
		return "unreadable"
	}
}

// Classify reads the signature prefix of path. A non-nil error is only
// returned together with Unreadable and carries the underlying cause.
func Classify(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unreadable, fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, len(Magic))
	n, err := io.ReadFull(f, header)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// shorter than the signature
		return NotAContainer, nil
	default:
		return Unreadable, fmt.Errorf("integrity: read %s: %w", path, err)
	}

	if !bytes.Equal(header[:n], Magic) {
		return NotAContainer, nil
	}
	return ValidContainer, nil
}

// IsContainer reports whether Classify returns ValidContainer
func IsContainer(path string) bool {
	res, _ := Classify(path)
	return res == ValidContainer
}

// HasExtension reports whether path carries the conventional extension.
// It is a naming hint for callers only.
func HasExtension(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Extension)
}
