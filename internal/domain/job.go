package domain

import "time"

// PostAction is an optional script offered to the user after a successful
// backup (for example, unmounting the backup drive).
type PostAction struct {
	Label  string
	Script string
}

// JobConfig is one configured backup script. It is immutable between
// configuration reloads; replacing it never interrupts an in-flight run.
type JobConfig struct {
	Name     string
	IconName string

	// BackupScript is the full script body, shebang included.
	BackupScript string

	// BackupPath is the target path the backup writes to. Empty means
	// no device gate: the job is always considered ready.
	BackupPath string

	// Interval is the minimum duration between successive successful runs.
	Interval time.Duration

	// Reminder is the additional duration past due time after which the
	// job is flagged overdue. Zero means no reminder is configured.
	Reminder time.Duration

	PostBackupActions []PostAction

	// LastBackup is the previously recorded last successful run, loaded
	// from the settings file. Nil means the job has never run.
	LastBackup *time.Time
}

// HasDeviceGate reports whether runs of this job are gated on a target path.
func (j JobConfig) HasDeviceGate() bool {
	return j.BackupPath != ""
}
