package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dfaust/backup-monitor/internal/domain"
	"github.com/dfaust/backup-monitor/internal/timeutil"
)

// settingsHeader is written at the top of newly created settings files.
const settingsHeader = "# see https://github.com/dfaust/backup-monitor/blob/master/README.md for instructions\n"

// DefaultRetryCooldown is how long a failed job waits before it becomes
// eligible again, unless overridden in the settings file.
const DefaultRetryCooldown = time.Hour

// Duration wraps time.Duration with the settings file syntax ("1d", "7d",
// "90m", "1d 12h").
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return timeutil.FormatDuration(time.Duration(d)), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := timeutil.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// PostScriptAction is one optional script offered after a successful backup.
type PostScriptAction struct {
	Label  string `yaml:"label"`
	Script string `yaml:"script"`
}

// Script is one backup job as stored in the settings file.
type Script struct {
	Name     string `yaml:"name"`
	IconName string `yaml:"icon-name,omitempty"`

	BackupScript string `yaml:"backup-script"`
	BackupPath   string `yaml:"backup-path,omitempty"`

	Interval Duration  `yaml:"interval"`
	Reminder *Duration `yaml:"reminder,omitempty"`

	PostBackupActions []PostScriptAction `yaml:"post-backup-actions,omitempty"`

	LastBackup *time.Time `yaml:"last-backup,omitempty"`
}

// Settings is the full contents of the settings file.
type Settings struct {
	IconName string   `yaml:"icon-name"`
	Title    string   `yaml:"title"`
	Scripts  []Script `yaml:"scripts"`

	// RetryCooldown delays retries of failed jobs.
	RetryCooldown *Duration `yaml:"retry-cooldown,omitempty"`

	Autostart bool `yaml:"autostart"`
}

// DefaultSettings returns the settings written when no file exists yet.
func DefaultSettings() Settings {
	return Settings{
		IconName: "backup",
		Title:    "Backup",
	}
}

// Jobs converts the settings file scripts into immutable job configs.
func (s Settings) Jobs() []domain.JobConfig {
	jobs := make([]domain.JobConfig, 0, len(s.Scripts))
	for _, script := range s.Scripts {
		job := domain.JobConfig{
			Name:         script.Name,
			IconName:     script.IconName,
			BackupScript: script.BackupScript,
			BackupPath:   script.BackupPath,
			Interval:     time.Duration(script.Interval),
			LastBackup:   script.LastBackup,
		}
		if script.Reminder != nil {
			job.Reminder = time.Duration(*script.Reminder)
		}
		for _, action := range script.PostBackupActions {
			job.PostBackupActions = append(job.PostBackupActions, domain.PostAction{
				Label:  action.Label,
				Script: action.Script,
			})
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// RetryCooldownOrDefault returns the configured retry cooldown or the
// package default.
func (s Settings) RetryCooldownOrDefault() time.Duration {
	if s.RetryCooldown != nil {
		return time.Duration(*s.RetryCooldown)
	}
	return DefaultRetryCooldown
}

// Store reads and writes the settings file. It is the persistence
// collaborator: the scheduler asks it to record last-backup timestamps
// after successful runs. All file access is serialized.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the settings file. A missing file is created
// with defaults first, matching first-run behavior.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := s.write(DefaultSettings()); err != nil {
			return Settings{}, fmt.Errorf("create default settings: %w", err)
		}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

// Save writes the settings file atomically.
func (s *Store) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(settings)
}

// SaveLastBackup durably records a new last successful backup timestamp for
// the named job. Unknown job names are ignored (the job was removed from
// the file since the run started).
func (s *Store) SaveLastBackup(name string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}

	for i := range settings.Scripts {
		if settings.Scripts[i].Name == name {
			t := ts.UTC()
			settings.Scripts[i].LastBackup = &t
			return s.write(settings)
		}
	}
	return nil
}

func (s *Store) write(settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(settingsHeader), data...), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
