// ============================================================================
// OTA Responder — Apply
// ============================================================================
//
// Package: internal/ota
// File: apply.go
// Purpose: Backup -> install -> post-check -> rollback-on-failure apply
//          pipeline (spec §4.12: "Apply copies the current artefact to
//          {path}_backup, installs the new artefact, and runs a
//          post-apply check; failure triggers rollback (rename backup
//          back)").
//
// Grounded on original_source/iot-truck-agent/src/ota/updater/apply.rs's
// create_backup/apply_*_update/rollback sequence, generalized from four
// per-target Rust methods into one target-keyed installer map so a new
// UpdateTarget only needs one new entry, not a new branch threaded
// through the whole pipeline.
// ============================================================================

package ota

import (
	"fmt"
	"os"
)

// Installer writes an artefact's bytes to its live location for one
// UpdateTarget. Tests inject an in-memory installer; production wiring
// would write the agent binary, model file, or config file path.
type Installer interface {
	Install(target UpdateTarget, artefact []byte) error
	// PostCheck runs after Install and reports whether the artefact took
	// effect correctly; a false return triggers rollback.
	PostCheck(target UpdateTarget) (bool, error)
	// Backup snapshots the current live artefact for target so Rollback
	// can restore it.
	Backup(target UpdateTarget) error
	Rollback(target UpdateTarget) error
}

// FileInstaller is an Installer backed by plain files on disk: the live
// path is overwritten in place, the prior contents saved to
// "{path}_backup" first.
type FileInstaller struct {
	Paths      map[UpdateTarget]string
	postChecks map[UpdateTarget]func() (bool, error)
}

// NewFileInstaller builds a FileInstaller writing each target to paths[target].
func NewFileInstaller(paths map[UpdateTarget]string) *FileInstaller {
	return &FileInstaller{Paths: paths, postChecks: make(map[UpdateTarget]func() (bool, error))}
}

// SetPostCheck overrides the post-apply verification for target; absent an
// override, PostCheck always reports success (matching the original
// agent's placeholder verify_update_applied).
func (f *FileInstaller) SetPostCheck(target UpdateTarget, check func() (bool, error)) {
	f.postChecks[target] = check
}

func (f *FileInstaller) path(target UpdateTarget) (string, error) {
	p, ok := f.Paths[target]
	if !ok {
		return "", fmt.Errorf("ota: no install path configured for target %s", target)
	}
	return p, nil
}

func (f *FileInstaller) Backup(target UpdateTarget) error {
	p, err := f.path(target)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil // nothing live yet to back up
	}
	if err != nil {
		return fmt.Errorf("ota: read %s for backup: %w", p, err)
	}
	return os.WriteFile(p+"_backup", data, 0o644)
}

func (f *FileInstaller) Install(target UpdateTarget, artefact []byte) error {
	p, err := f.path(target)
	if err != nil {
		return err
	}
	return os.WriteFile(p, artefact, 0o644)
}

func (f *FileInstaller) PostCheck(target UpdateTarget) (bool, error) {
	if check, ok := f.postChecks[target]; ok {
		return check()
	}
	return true, nil
}

func (f *FileInstaller) Rollback(target UpdateTarget) error {
	p, err := f.path(target)
	if err != nil {
		return err
	}
	backup := p + "_backup"
	if _, statErr := os.Stat(backup); os.IsNotExist(statErr) {
		return fmt.Errorf("ota: no backup found at %s", backup)
	}
	return os.Rename(backup, p)
}

// apply runs backup -> install -> post-check, rolling back and returning
// StatusFailed on any failure, per spec §4.12's pipeline.
func apply(inst Installer, u Update, artefact []byte) (UpdateStatus, error) {
	if err := inst.Backup(u.Target); err != nil {
		return StatusFailed, fmt.Errorf("ota: backup: %w", err)
	}
	if err := inst.Install(u.Target, artefact); err != nil {
		return rollbackAfter(inst, u.Target, fmt.Errorf("ota: install: %w", err))
	}
	ok, err := inst.PostCheck(u.Target)
	if err != nil {
		return rollbackAfter(inst, u.Target, fmt.Errorf("ota: post-check: %w", err))
	}
	if !ok {
		return rollbackAfter(inst, u.Target, fmt.Errorf("ota: post-check reported failure for %s", u.UpdateID))
	}
	return StatusSuccess, nil
}

func rollbackAfter(inst Installer, target UpdateTarget, cause error) (UpdateStatus, error) {
	if rbErr := inst.Rollback(target); rbErr != nil {
		return StatusFailed, fmt.Errorf("%w; rollback also failed: %v", cause, rbErr)
	}
	return StatusFailed, cause
}
