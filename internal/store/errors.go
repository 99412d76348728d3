// internal/store/errors.go
package store

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotAContainer            = errors.New("store: not a container file")
	ErrUnreadable               = errors.New("store: container unreadable")
	ErrFormatMismatch           = errors.New("store: application id mismatch")
	ErrUnsupportedFutureVersion = errors.New("store: container written by a newer version")
	ErrRecursionGuardTripped    = errors.New("store: connection establishment re-entered")
	ErrMigrationChain           = errors.New("store: migration chain is not linear")
	ErrWriteExhausted           = errors.New("store: write retries exhausted")
	ErrBusy                     = errors.New("store: storage busy")
	ErrHandleInUse              = errors.New("store: container already open")
	ErrHandleClosed             = errors.New("store: handle closed")
	ErrReadOnly                 = errors.New("store: handle is read-only")
	ErrChecksumMismatch         = errors.New("store: blob checksum mismatch")
	ErrMissingBlob              = errors.New("store: image item has no blob")
	ErrCorruptBlob              = errors.New("store: blob cannot be inflated")
)

// FormatError is returned when a file is a database but not one of ours
type FormatError struct {
	Path          string
	ApplicationID int32
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("store: %s has application id %#x, want %#x", e.Path, e.ApplicationID, ApplicationID)
}

func (e *FormatError) Unwrap() error { return ErrFormatMismatch }

// VersionError is returned for containers newer than this build understands
type VersionError struct {
	Path    string
	Stored  int
	Current int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("store: %s has schema version %d, newest supported is %d", e.Path, e.Stored, e.Current)
}

func (e *VersionError) Unwrap() error { return ErrUnsupportedFutureVersion }

// MigrationError reports a failed step. The file is left at Reached and the
// next open resumes from there.
type MigrationError struct {
	From    int
	To      int
	Reached int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("store: migration %d -> %d failed (file at version %d): %v", e.From, e.To, e.Reached, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// ChecksumError identifies the item whose blob failed verification
type ChecksumError struct {
	ItemID int64
	Want   string
	Got    string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("store: item %d blob checksum %s, stored %s", e.ItemID, e.Got, e.Want)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// IsTransient reports whether err is lock contention that may clear up on
// its own. Disk full, permission and corruption errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
