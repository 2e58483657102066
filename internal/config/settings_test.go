package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const fullSettingsYAML = `
icon-name: backup
title: Backup
scripts:
- name: Backup
  backup-script: |
    #!/usr/bin/env bash
    set -o errexit
    /usr/bin/backup.sh
  backup-path: /mnt/backup
  interval: 1d
  reminder: 7d
  post-backup-actions:
  - label: Unmount backup HDD
    script: |
      #!/usr/bin/env bash
      set -o errexit
      umount /mnt/backup
  last-backup: 2024-10-24T20:18:00Z
autostart: true
`

func tempStore(t *testing.T, contents string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup-monitor.yaml")
	if contents != "" {
		if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return NewStore(path)
}

func TestStore_LoadFull(t *testing.T) {
	store := tempStore(t, fullSettingsYAML)

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if settings.Title != "Backup" {
		t.Errorf("Title: got %q", settings.Title)
	}
	if len(settings.Scripts) != 1 {
		t.Fatalf("Scripts: got %d, want 1", len(settings.Scripts))
	}

	script := settings.Scripts[0]
	if script.Name != "Backup" {
		t.Errorf("Name: got %q", script.Name)
	}
	if time.Duration(script.Interval) != 24*time.Hour {
		t.Errorf("Interval: got %v", time.Duration(script.Interval))
	}
	if script.Reminder == nil || time.Duration(*script.Reminder) != 7*24*time.Hour {
		t.Errorf("Reminder: got %v", script.Reminder)
	}
	if script.BackupPath != "/mnt/backup" {
		t.Errorf("BackupPath: got %q", script.BackupPath)
	}
	if len(script.PostBackupActions) != 1 || script.PostBackupActions[0].Label != "Unmount backup HDD" {
		t.Errorf("PostBackupActions: got %+v", script.PostBackupActions)
	}
	if script.LastBackup == nil || !script.LastBackup.Equal(time.Date(2024, 10, 24, 20, 18, 0, 0, time.UTC)) {
		t.Errorf("LastBackup: got %v", script.LastBackup)
	}
}

func TestStore_LoadCreatesDefaultFile(t *testing.T) {
	store := tempStore(t, "")

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.IconName != "backup" || settings.Title != "Backup" {
		t.Errorf("unexpected defaults: %+v", settings)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("settings file not created: %v", err)
	}
	if !strings.HasPrefix(string(data), "# see https://") {
		t.Error("expected instructions header at top of created file")
	}
}

func TestStore_LoadRejectsDuplicateNames(t *testing.T) {
	store := tempStore(t, `
scripts:
- name: Backup
  backup-script: "#!/bin/sh"
  interval: 1d
- name: Backup
  backup-script: "#!/bin/sh"
  interval: 1d
`)

	if _, err := store.Load(); err == nil {
		t.Fatal("expected duplicate-name validation error")
	}
}

func TestStore_LoadRejectsMalformedYAML(t *testing.T) {
	store := tempStore(t, "scripts: [unclosed")

	if _, err := store.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStore_SaveLastBackupRoundTrip(t *testing.T) {
	store := tempStore(t, fullSettingsYAML)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveLastBackup("Backup", ts); err != nil {
		t.Fatalf("SaveLastBackup: %v", err)
	}

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if settings.Scripts[0].LastBackup == nil || !settings.Scripts[0].LastBackup.Equal(ts) {
		t.Errorf("LastBackup: got %v, want %v", settings.Scripts[0].LastBackup, ts)
	}

	// Everything else survives the rewrite.
	if settings.Scripts[0].BackupPath != "/mnt/backup" {
		t.Errorf("BackupPath lost on save: %q", settings.Scripts[0].BackupPath)
	}
	if !settings.Autostart {
		t.Error("Autostart lost on save")
	}
}

func TestStore_SaveLastBackupUnknownJobIsNoop(t *testing.T) {
	store := tempStore(t, fullSettingsYAML)

	if err := store.SaveLastBackup("gone", time.Now()); err != nil {
		t.Fatalf("SaveLastBackup: %v", err)
	}
}

func TestSettings_Jobs(t *testing.T) {
	store := tempStore(t, fullSettingsYAML)
	settings, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}

	jobs := settings.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs: got %d", len(jobs))
	}
	job := jobs[0]
	if !job.HasDeviceGate() {
		t.Error("expected device gate for job with backup-path")
	}
	if job.Interval != 24*time.Hour || job.Reminder != 7*24*time.Hour {
		t.Errorf("durations: interval=%v reminder=%v", job.Interval, job.Reminder)
	}
	if len(job.PostBackupActions) != 1 {
		t.Errorf("post actions: %+v", job.PostBackupActions)
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(26 * time.Hour)
	data, err := yaml.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "1d 2h" {
		t.Errorf("marshal: got %q", strings.TrimSpace(string(data)))
	}

	var back Duration
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Errorf("round trip: got %v, want %v", time.Duration(back), time.Duration(d))
	}
}

func TestValidateSettings_MissingFields(t *testing.T) {
	bad := Settings{
		Scripts: []Script{
			{Name: "", BackupScript: "", Interval: 0},
		},
	}

	err := ValidateSettings(bad)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verrs), verrs)
	}
}
