package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// The journal lives alongside the backups so one directory is
// everything a later revert needs.
const (
	journalName    = "journal.json"
	journalVersion = 1
)

// saveJournal persists the journal atomically into the backup root.
func (e *Engine) saveJournal(backupRoot string, j *journal) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	path := filepath.Join(backupRoot, journalName)
	if err := e.fs.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return nil
}

// loadJournal reads the journal from the backup root. Returns
// ErrNoJournal when the backup root never held one.
func (e *Engine) loadJournal(backupRoot string) (*journal, error) {
	path := filepath.Join(backupRoot, journalName)

	data, err := e.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrNoJournal, backupRoot)
		}
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var j journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse journal: %w", err)
	}
	if j.Version != journalVersion {
		return nil, fmt.Errorf("unsupported journal version %d", j.Version)
	}
	return &j, nil
}
