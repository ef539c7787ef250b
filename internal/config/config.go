// Package config loads and hot-reloads the daemon's YAML configuration:
// a plain read-file-and-yaml.Unmarshal load, plus an fsnotify watch that
// reacts to on-disk config changes without a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rursache/KDECodexBar/internal/provider"
)

// Config is the daemon's on-disk configuration.
type Config struct {
	// RefreshIntervalSeconds selects the scheduler tick; 0 means Manual.
	RefreshIntervalSeconds int `yaml:"refresh-interval-seconds"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
	// LogToFile switches logging to a rotating file under LogDir.
	LogToFile bool `yaml:"log-to-file"`
	// LogDir is where rotated log files are written when LogToFile is set.
	LogDir string `yaml:"log-dir"`
	// ClaudeBinary overrides the "claude" executable looked up on PATH.
	ClaudeBinary string `yaml:"claude-binary"`
}

// Default returns the zero-value configuration's documented defaults: a
// 60-second refresh tick, logging to stdout at info level.
func Default() Config {
	return Config{
		RefreshIntervalSeconds: 60,
		Debug:                  false,
		LogToFile:              false,
		LogDir:                 "logs",
		ClaudeBinary:           "claude",
	}
}

// Load reads and parses the YAML file at path. A missing file is not an
// error: Default() is returned instead, so the daemon runs out of the box.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Interval converts RefreshIntervalSeconds into a provider.Interval,
// clamped to Manual when non-positive.
func (c Config) Interval() provider.Interval {
	if c.RefreshIntervalSeconds <= 0 {
		return provider.Manual
	}
	return provider.Interval(time.Duration(c.RefreshIntervalSeconds) * time.Second)
}

// WatchFile watches path for writes/renames (the pattern most editors and
// atomic-rename config deployments use) and invokes onChange with the
// freshly parsed Config after each one. It logs and skips a reload that
// fails to parse, keeping the last good configuration in effect. The
// returned closer stops the watch.
func WatchFile(path string, onChange func(Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err = watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, loadErr := Load(path)
				if loadErr != nil {
					log.WithError(loadErr).WithField("path", path).Warn("config: reload failed, keeping previous config")
					continue
				}
				onChange(cfg)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(watchErr).Warn("config: watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
