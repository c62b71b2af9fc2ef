// Package engine validates, applies, and reverts patches against a
// target tree.
//
// The engine is single-threaded and synchronous per operation; a
// cooperative cancellation check runs between actions. Application is
// all-or-nothing from the caller's perspective: a failure (or
// cancellation) at action k automatically reverts actions 1..k before
// the error is surfaced. Independent Engine values share no mutable
// state, so separate patches can be processed concurrently by
// independent callers.
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/velistar/treepatch/internal/clock"
	"github.com/velistar/treepatch/internal/digest"
	"github.com/velistar/treepatch/internal/fsops"
)

// LockPolicy decides whether a Delete failure is lock contention
// (another process holds the file open) and therefore a best-effort
// no-op rather than a fatal apply error.
type LockPolicy func(error) bool

// WarnFunc receives non-fatal diagnostics, such as a skipped locked
// delete. Nil disables them.
type WarnFunc func(format string, args ...any)

// Engine validates, applies, and reverts patches.
type Engine struct {
	fs         fsops.FS
	digester   digest.Digester
	clock      clock.Clock
	lockPolicy LockPolicy
	warnf      WarnFunc
}

// New creates a new Engine with the given dependencies. A nil
// lockPolicy falls back to DefaultLockPolicy; a nil warnf discards
// warnings.
func New(fs fsops.FS, digester digest.Digester, clk clock.Clock, lockPolicy LockPolicy, warnf WarnFunc) *Engine {
	if lockPolicy == nil {
		lockPolicy = DefaultLockPolicy
	}
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &Engine{
		fs:         fs,
		digester:   digester,
		clock:      clk,
		lockPolicy: lockPolicy,
		warnf:      warnf,
	}
}

// DefaultLockPolicy treats EBUSY/ETXTBSY and Windows sharing-violation
// failures as lock contention. The precise rule is platform-specific,
// which is why the policy is injectable rather than hard-coded.
func DefaultLockPolicy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "being used by another process") ||
		strings.Contains(msg, "sharing violation")
}

// NewBackupID derives a backup-store identifier from the engine clock.
// IDs sort chronologically so the newest store is easy to spot.
func (e *Engine) NewBackupID() string {
	return e.clock.Now().UTC().Format("20060102-150405")
}

// targetPath resolves a slash-separated relative path against root.
func targetPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// pathState inspects what currently exists at path.
func (e *Engine) pathState(path string) (PriorState, error) {
	info, err := e.fs.Lstat(path)
	if err != nil {
		exists, exErr := e.fs.Exists(path)
		if exErr == nil && !exists {
			return PriorMissing, nil
		}
		return PriorMissing, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return PriorDir, nil
	}
	return PriorFile, nil
}
