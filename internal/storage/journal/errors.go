package journal

// ============================================================================
// Journal Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrCorruptedJournal indicates the journal cannot be parsed as JSON lines
	ErrCorruptedJournal = errors.New("journal: file is corrupted")

	// ErrChecksumMismatch indicates a record whose checksum does not match its content
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrJournalClosed indicates the journal is closed
	ErrJournalClosed = errors.New("journal: already closed")
)

// ChecksumError represents a checksum error with detailed information
type ChecksumError struct {
	Seq      uint64 // Sequence number of failed event
	Expected uint32 // Expected checksum
	Actual   uint32 // Actual checksum
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

// Is lets errors.Is match ErrChecksumMismatch
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// CorruptionError represents an undecodable record
type CorruptionError struct {
	Record int   // 1-based record position in the file
	Cause  error // Underlying error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted record %d: %v", e.Record, e.Cause)
}

func (e *CorruptionError) Unwrap() []error {
	return []error{ErrCorruptedJournal, e.Cause}
}
