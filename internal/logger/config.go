package logger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds logging configuration
type Config struct {
	Level          string `yaml:"level" env:"LEVEL"`
	ConsoleEnabled bool   `yaml:"console_enabled" env:"CONSOLE_ENABLED"`
	ConsoleFormat  string `yaml:"console_format" env:"CONSOLE_FORMAT"`
	FileEnabled    bool   `yaml:"file_enabled" env:"FILE_ENABLED"`
	FilePath       string `yaml:"file_path" env:"FILE_PATH"`
	FileFormat     string `yaml:"file_format" env:"FILE_FORMAT"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" env:"FILE_MAX_SIZE_MB"`
	FileMaxBackups int    `yaml:"file_max_backups" env:"FILE_MAX_BACKUPS"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" env:"FILE_MAX_AGE_DAYS"`
	FileCompress   bool   `yaml:"file_compress" env:"FILE_COMPRESS"`
}

// DefaultConfig returns console text logging at INFO.
func DefaultConfig() Config {
	return Config{
		Level:          "INFO",
		ConsoleEnabled: true,
		ConsoleFormat:  "text",
		FilePath:       "logs/questd.log",
		FileFormat:     "json",
		FileMaxSizeMB:  10,
		FileMaxBackups: 5,
		FileMaxAgeDays: 30,
	}
}

type loggingFile struct {
	Logging Config `yaml:"logging"`
}

// LoadConfig reads the logging section of a YAML file over the defaults and
// applies QUEST_LOG_* environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (Config, error) {
	wrapper := loggingFile{Logging: DefaultConfig()}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read logging config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &wrapper); err != nil {
				return Config{}, fmt.Errorf("failed to parse logging config: %w", err)
			}
		}
	}

	config := wrapper.Logging
	if err := env.ParseWithOptions(&config, env.Options{Prefix: "QUEST_LOG_"}); err != nil {
		return Config{}, fmt.Errorf("failed to apply logging environment: %w", err)
	}
	return config, nil
}
