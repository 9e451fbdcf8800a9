// Package config holds the static configuration surface consumed by the
// ingestion core. Values are populated from environment variables via
// struct tags; a thin YAML loader fills the same struct from a config
// file, with environment variables taking precedence (Load applies the
// file first, then overlays the environment).
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DuplicateDetectionConfig is the Oracle's policy input (spec §4.4, §6).
type DuplicateDetectionConfig struct {
	CheckDuration             bool    `yaml:"checkDuration" env:"DUPLICATE_CHECK_DURATION" envDefault:"true"`
	DurationToleranceSeconds  int     `yaml:"durationToleranceSeconds" env:"DUPLICATE_DURATION_TOLERANCE_SECONDS" envDefault:"30"`
	CheckFileSize             bool    `yaml:"checkFileSize" env:"DUPLICATE_CHECK_FILE_SIZE" envDefault:"true"`
	FileSizeTolerancePercent  float64 `yaml:"fileSizeTolerancePercent" env:"DUPLICATE_FILE_SIZE_TOLERANCE_PERCENT" envDefault:"5"`
	CheckResolution           bool    `yaml:"checkResolution" env:"DUPLICATE_CHECK_RESOLUTION" envDefault:"false"`
	ResolutionTolerancePercent float64 `yaml:"resolutionTolerancePercent" env:"DUPLICATE_RESOLUTION_TOLERANCE_PERCENT" envDefault:"10"`
	CheckMimeType             bool    `yaml:"checkMimeType" env:"DUPLICATE_CHECK_MIME_TYPE" envDefault:"false"`
	NormalizeFilenames        bool    `yaml:"normalizeFilenames" env:"DUPLICATE_NORMALIZE_FILENAMES" envDefault:"true"`
}

// Config is the complete static configuration for one ingestion run,
// reproduced to match spec.md §6 exactly.
type Config struct {
	SortedGroupName string `yaml:"sortedGroupName" env:"SORTED_GROUP_NAME"`

	VideoMatches    []string `yaml:"videoMatches" env:"VIDEO_MATCHES" envSeparator:","`
	VideoExclusions []string `yaml:"videoExclusions" env:"VIDEO_EXCLUSIONS" envSeparator:","`
	SourceGroups    []int64  `yaml:"sourceGroups" env:"SOURCE_GROUPS" envSeparator:","`

	MinVideoDurationInSeconds int  `yaml:"minVideoDurationInSeconds" env:"MIN_VIDEO_DURATION_SECONDS" envDefault:"0"`
	MaxVideoDurationInSeconds *int `yaml:"maxVideoDurationInSeconds" env:"MAX_VIDEO_DURATION_SECONDS"`
	MinFileSizeMB             *float64 `yaml:"minFileSizeMB" env:"MIN_FILE_SIZE_MB"`
	MaxFileSizeMB             *float64 `yaml:"maxFileSizeMB" env:"MAX_FILE_SIZE_MB"`

	MaxForwards int `yaml:"maxForwards" env:"MAX_FORWARDS" envDefault:"0"`

	DryRun      bool `yaml:"dryRun" env:"DRY_RUN" envDefault:"false"`
	SkipCleanup bool `yaml:"skipCleanup" env:"SKIP_CLEANUP" envDefault:"false"`

	DuplicateDetection DuplicateDetectionConfig `yaml:"duplicateDetection"`

	DataDir    string `yaml:"dataDir" env:"DATA_DIR" envDefault:"./data"`
	BotToken   string `yaml:"botToken" env:"BOT_TOKEN"`
	Schedule   string `yaml:"schedule" env:"SCHEDULE"`
	LogLevel   string `yaml:"logLevel" env:"LOG_LEVEL" envDefault:"info"`

	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond" env:"RATE_LIMIT_PER_SECOND" envDefault:"20"`
	RateLimitBurst     int     `yaml:"rateLimitBurst" env:"RATE_LIMIT_BURST" envDefault:"5"`

	TopicCacheSpillThreshold int `yaml:"topicCacheSpillThreshold" env:"TOPIC_CACHE_SPILL_THRESHOLD" envDefault:"5000"`
}

// Load reads an optional YAML file at path (skipped silently if path is
// empty or the file doesn't exist), then overlays environment variables
// on top, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the fatal-at-startup invariant from spec.md §7
// (ConfigurationInvalid): an empty videoMatches list is fatal before any
// RPC is attempted.
func (c *Config) Validate() error {
	if len(c.VideoMatches) == 0 {
		return fmt.Errorf("config: videoMatches must be non-empty")
	}
	if c.SortedGroupName == "" {
		return fmt.Errorf("config: sortedGroupName must be set")
	}
	return nil
}
