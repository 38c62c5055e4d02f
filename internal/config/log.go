package config

// LogConfig selects the zap level and encoder and an optional rotated file.
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json or console
	ServiceName string
	File        string // empty logs to stdout only
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// LoadLogConfig reads LOG_* variables.
func LoadLogConfig(service string) LogConfig {
	return LogConfig{
		Level:       envStr("LOG_LEVEL", "info"),
		Format:      envStr("LOG_FORMAT", "json"),
		ServiceName: envStr("LOG_SERVICE_NAME", service),
		File:        envStr("LOG_FILE", ""),
		MaxSizeMB:   envInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups:  envInt("LOG_MAX_BACKUPS", 5),
		MaxAgeDays:  envInt("LOG_MAX_AGE_DAYS", 30),
	}
}
