package storage

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable is returned by every operation when the construction
// probe found the mechanism unusable. Callers degrade to session-only memory.
var ErrStorageUnavailable = errors.New("storage mechanism unavailable")

// QuotaError wraps a write that failed because the mechanism is out of space.
type QuotaError struct {
	Key  string
	Size int
	Err  error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("storage quota exceeded writing %q (%d bytes): %v", e.Key, e.Size, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// CorruptDataError records stored bytes that failed to parse as a valid
// envelope. It is logged, never propagated past Load.
type CorruptDataError struct {
	Key string
	Err error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt data under %q: %v", e.Key, e.Err)
}

func (e *CorruptDataError) Unwrap() error { return e.Err }

// MalformedBackupError reports an uploaded backup missing required envelope
// fields.
type MalformedBackupError struct {
	Reason string
}

func (e *MalformedBackupError) Error() string {
	return "malformed backup: " + e.Reason
}
