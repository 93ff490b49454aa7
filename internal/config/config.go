// Package config loads and merges the flat key-value configuration files
// shared by the monitor and watchdog processes.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the merged flat configuration for one process. Values come from
// conf/global.yaml overlaid by conf/<group>.yaml; the group file wins on
// conflicting keys. JSON files are accepted too since YAML is a superset.
type Config map[string]any

const (
	DefaultMonitorInterval    = 60 * time.Second
	DefaultUnhealthyThreshold = 3
	DefaultResponseTimeout    = 5 * time.Second
	DefaultCheckInterval      = 60 * time.Second
	DefaultMaxRestarts        = 5
)

// LoadGlobal reads conf/global.yaml (or .json / .yml). A missing global file
// is not an error; an empty Config is returned.
func LoadGlobal(confDir string) (Config, error) {
	for _, name := range []string{"global.yaml", "global.yml", "global.json"} {
		path := filepath.Join(confDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return loadFile(path)
	}
	return Config{}, nil
}

// LoadGroup reads the per-group configuration file. Unlike the global file,
// a missing group file is an error: a group without configuration is a
// deployment mistake, not a default.
func LoadGroup(confDir, group string) (Config, error) {
	var lastErr error
	for _, name := range []string{group + ".yaml", group + ".yml", group + ".json"} {
		path := filepath.Join(confDir, name)
		if _, err := os.Stat(path); err != nil {
			lastErr = err
			continue
		}
		return loadFile(path)
	}
	return nil, fmt.Errorf("config for group %q not found in %s: %w", group, confDir, lastErr)
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // Remove UTF-8 BOM if present
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Merge overlays group on top of global. Neither input is mutated.
func Merge(global, group Config) Config {
	merged := make(Config, len(global)+len(group))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range group {
		merged[k] = v
	}
	return merged
}

// Validate rejects values that would break the health-state machine.
// A zero unhealthy_threshold in particular would turn the alert cadence
// check into a modulo by zero.
func (c Config) Validate() error {
	if c.Int("unhealthy_threshold", DefaultUnhealthyThreshold) <= 0 {
		return fmt.Errorf("unhealthy_threshold must be > 0")
	}
	if c.Seconds("monitor_interval", DefaultMonitorInterval) <= 0 {
		return fmt.Errorf("monitor_interval must be > 0")
	}
	if c.Seconds("response_timeout", DefaultResponseTimeout) <= 0 {
		return fmt.Errorf("response_timeout must be > 0")
	}
	return nil
}

// Int returns the integer value for key, or def when absent or mistyped.
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Seconds interprets an integer config value as a duration in seconds.
func (c Config) Seconds(key string, def time.Duration) time.Duration {
	if v, ok := c[key]; ok {
		switch n := v.(type) {
		case int:
			return time.Duration(n) * time.Second
		case int64:
			return time.Duration(n) * time.Second
		case float64:
			return time.Duration(n * float64(time.Second))
		}
	}
	return def
}

// String returns the string value for key, or def when absent.
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return def
}

// Bool returns the boolean value for key, or def when absent or mistyped.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// Strings returns a string-list value. A bare string is treated as a
// single-element list so receiver_email may be written either way.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

// Groups returns the configured monitor group names.
func (c Config) Groups() []string {
	return c.Strings("monitor_groups")
}
