package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the process-level configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.TickIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TickIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	if cfg.HTTPShutdownTimeoutStr != "" {
		if _, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "HTTP_SHUTDOWN_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		}
	}

	if cfg.SettingsPath == "" {
		errs = append(errs, ValidationError{
			Field:   "SETTINGS_PATH",
			Message: "required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateSettings checks the settings file contents. A reload with invalid
// settings is rejected in its entirety.
func ValidateSettings(settings Settings) error {
	var errs ValidationErrors

	seen := make(map[string]bool, len(settings.Scripts))
	for i, script := range settings.Scripts {
		field := fmt.Sprintf("scripts[%d]", i)

		if script.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "required"})
		} else if seen[script.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate script name %q; script names must be unique", script.Name),
			})
		}
		seen[script.Name] = true

		if script.BackupScript == "" {
			errs = append(errs, ValidationError{Field: field + ".backup-script", Message: "required"})
		}
		if script.Interval <= 0 {
			errs = append(errs, ValidationError{Field: field + ".interval", Message: "must be positive"})
		}
		if script.Reminder != nil && *script.Reminder <= 0 {
			errs = append(errs, ValidationError{Field: field + ".reminder", Message: "must be positive when set"})
		}

		for j, action := range script.PostBackupActions {
			actionField := fmt.Sprintf("%s.post-backup-actions[%d]", field, j)
			if action.Label == "" {
				errs = append(errs, ValidationError{Field: actionField + ".label", Message: "required"})
			}
			if action.Script == "" {
				errs = append(errs, ValidationError{Field: actionField + ".script", Message: "required"})
			}
		}
	}

	if settings.RetryCooldown != nil && *settings.RetryCooldown <= 0 {
		errs = append(errs, ValidationError{Field: "retry-cooldown", Message: "must be positive when set"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
