package engine

import "errors"

var (
	// ErrUnresolved indicates apply was called while blocking
	// validation errors were outstanding.
	ErrUnresolved = errors.New("unresolved validation errors")

	// ErrApply indicates an I/O failure during mutation. Everything
	// applied before the failure has been rolled back.
	ErrApply = errors.New("apply failed")

	// ErrRevert indicates a backup could not be restored. There is no
	// further state to roll back to.
	ErrRevert = errors.New("revert failed")

	// ErrNoJournal indicates the backup root holds no apply journal.
	ErrNoJournal = errors.New("no apply journal found")
)
