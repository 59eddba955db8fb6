package config

// Config is the top-level YAML structure.
type Config struct {
	Version string      `yaml:"version"`
	Listen  string      `yaml:"listen"`
	Storage StorageConf `yaml:"storage"`
	Backup  BackupConf  `yaml:"backup"`
}

// StorageConf configures the persistence adapter.
type StorageConf struct {
	// Dir is the directory holding the key files.
	Dir string `yaml:"dir"`
	// Key is the well-known key the event envelope is stored under.
	Key string `yaml:"key"`
	// CorruptionPolicy is "preserve" (default) or "clear".
	CorruptionPolicy string `yaml:"corruption_policy"`
	// StalenessDays is the advisory age threshold flagged on load.
	StalenessDays int `yaml:"staleness_days"`
}

// BackupConf configures the scheduled backup job.
type BackupConf struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression, e.g. "0 3 * * *".
	Schedule string `yaml:"schedule"`
	Dir      string `yaml:"dir"`
}
