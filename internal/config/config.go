// Package config resolves the host and voyager processes' settings from
// flags, environment variables, and an optional YAML file, in that order
// of precedence, and watches the file for relay token rotation.
package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the host process's resolved settings.
type Config struct {
	Port       string `yaml:"port"`
	RelayURL   string `yaml:"relay_url"`
	RelayToken string `yaml:"relay_token"`
	DevMode    bool   `yaml:"dev_mode"`
	RecordDir  string `yaml:"record_dir"`
	AuditDB    string `yaml:"audit_db"`
	LogLevel   string `yaml:"log_level"`
}

// Default returns a Config with the documented defaults before any
// environment or file overrides are applied.
func Default() Config {
	return Config{
		Port:     "9527",
		LogLevel: "info",
	}
}

// Load resolves a Config from flags already parsed into cfg, then fills
// in anything still at its zero value from the environment, then from an
// optional YAML file named by BLACKHOLE_CONFIG. Flags therefore always
// win; env vars win over the file; the file only fills gaps.
func Load(cfg Config) (Config, error) {
	cfg = applyEnv(cfg)

	path := os.Getenv("BLACKHOLE_CONFIG")
	if path == "" {
		return cfg, nil
	}
	fileCfg, err := loadYAML(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	return mergeFileDefaults(cfg, fileCfg), nil
}

func applyEnv(cfg Config) Config {
	if cfg.Port == "" || cfg.Port == "9527" {
		if v := os.Getenv("BLACKHOLE_PORT"); v != "" {
			cfg.Port = v
		}
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = os.Getenv("WORMHOLE_URL")
	}
	if cfg.RelayToken == "" {
		cfg.RelayToken = os.Getenv("WORMHOLE_TOKEN")
	}
	if !cfg.DevMode {
		cfg.DevMode = os.Getenv("BLACKHOLE_DEV") == "1"
	}
	if cfg.RecordDir == "" {
		cfg.RecordDir = os.Getenv("BLACKHOLE_RECORD_DIR")
	}
	if cfg.AuditDB == "" {
		cfg.AuditDB = os.Getenv("BLACKHOLE_AUDIT_DB")
	}
	if cfg.LogLevel == "" || cfg.LogLevel == "info" {
		if v := os.Getenv("BLACKHOLE_LOG_LEVEL"); v != "" {
			cfg.LogLevel = v
		}
	}
	return cfg
}

func loadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fileCfg, nil
}

// mergeFileDefaults fills RelayURL, RelayToken, RecordDir and AuditDB in cfg
// from the file when they are still empty. The file's port, dev_mode and
// log_level are not applied. RelayToken is the one field that stays
// live-reloadable after this point; see Watcher.
func mergeFileDefaults(cfg, file Config) Config {
	if cfg.RelayURL == "" {
		cfg.RelayURL = file.RelayURL
	}
	if cfg.RelayToken == "" {
		cfg.RelayToken = file.RelayToken
	}
	if cfg.RecordDir == "" {
		cfg.RecordDir = file.RecordDir
	}
	if cfg.AuditDB == "" {
		cfg.AuditDB = file.AuditDB
	}
	return cfg
}

// Watcher watches a YAML config file and, after each write to it, calls
// onToken with the file's relay_token if that is non-empty, whether or not
// the value differs from the last one. No other field is
// hot-reloadable: port and dev-mode changes require a process restart.
type Watcher struct {
	fsw *fsnotify.Watcher
	log zerolog.Logger
}

// Watch begins watching path. Returns nil, nil if path is empty.
func Watch(path string, log zerolog.Logger, onToken func(token string)) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{fsw: fsw, log: log}
	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fileCfg, err := loadYAML(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("config reload failed")
					continue
				}
				if fileCfg.RelayToken != "" {
					onToken(fileCfg.RelayToken)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	return w.fsw.Close()
}
