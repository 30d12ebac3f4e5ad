package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultSyncConcurrency is K from spec.md §5 when sync_concurrency is unset.
const DefaultSyncConcurrency = 8

// SyncDir is one `sync_dirs` entry: a local directory and the remote path
// prefix it mirrors to.
type SyncDir struct {
	SourcePath string `mapstructure:"source_path"`
	RemoteRoot string `mapstructure:"remote_root"`
}

// Config is the JSON configuration document from spec.md §6.
type Config struct {
	SyncDirs        []SyncDir `mapstructure:"sync_dirs"`
	SyncConcurrency int       `mapstructure:"sync_concurrency"`
	ExcludePatterns []string  `mapstructure:"exclude_patterns"`
}

// Load reads and validates a Config from a JSON document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("sync_concurrency", DefaultSyncConcurrency)
	v.SetDefault("exclude_patterns", []string{})

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config from %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the required-field and default-fallback rules from
// spec.md §6's configuration table, plus Open Question 2's resolution:
// sync_dirs whose resolved absolute paths are equal, or where one is a
// descendant of another, are rejected outright rather than silently
// merged (the teacher's own CreateDirectory silently merges an added
// parent with pre-existing child directories; that behavior is wrong
// here, since two independently configured sync roots should never
// combine).
func Validate(cfg *Config) error {
	if len(cfg.SyncDirs) == 0 {
		return fmt.Errorf("config: sync_dirs must contain at least one entry")
	}
	if cfg.SyncConcurrency < 1 {
		return fmt.Errorf("config: sync_concurrency must be >= 1, got %d", cfg.SyncConcurrency)
	}

	resolved := make([]string, len(cfg.SyncDirs))
	for i, d := range cfg.SyncDirs {
		if strings.TrimSpace(d.SourcePath) == "" {
			return fmt.Errorf("config: sync_dirs[%d].source_path is required", i)
		}
		if strings.TrimSpace(d.RemoteRoot) == "" {
			return fmt.Errorf("config: sync_dirs[%d].remote_root is required", i)
		}
		abs, err := filepath.Abs(d.SourcePath)
		if err != nil {
			return fmt.Errorf("config: resolving sync_dirs[%d].source_path: %w", i, err)
		}
		resolved[i] = filepath.Clean(abs)
	}

	for i := range resolved {
		for j := i + 1; j < len(resolved); j++ {
			if resolved[i] == resolved[j] || isAncestor(resolved[i], resolved[j]) || isAncestor(resolved[j], resolved[i]) {
				return fmt.Errorf("config: sync_dirs[%d] (%s) and sync_dirs[%d] (%s) overlap",
					i, cfg.SyncDirs[i].SourcePath, j, cfg.SyncDirs[j].SourcePath)
			}
		}
	}
	return nil
}

// isAncestor reports whether child is strictly nested inside parent.
func isAncestor(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
