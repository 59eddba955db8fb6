package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks the config for:
//   - Required fields
//   - A known corruption policy
//   - A parseable backup cron schedule
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	switch cfg.Storage.CorruptionPolicy {
	case "preserve", "clear":
	default:
		errs = append(errs, fmt.Sprintf("storage.corruption_policy: must be \"preserve\" or \"clear\", got %q", cfg.Storage.CorruptionPolicy))
	}
	if cfg.Storage.StalenessDays < 0 {
		errs = append(errs, "storage.staleness_days: must not be negative")
	}
	if cfg.Storage.Dir == "" {
		errs = append(errs, "storage.dir: must not be empty")
	}
	if cfg.Storage.Key == "" {
		errs = append(errs, "storage.key: must not be empty")
	}

	if cfg.Backup.Enabled {
		if _, err := cron.ParseStandard(cfg.Backup.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("backup.schedule: %s", err))
		}
		if cfg.Backup.Dir == "" {
			errs = append(errs, "backup.dir: must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
