package chatlogd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration: where logs live, what to
// listen on, what upstream to ingest from, and the resource limits
// governing open file handles.
type Config struct {
	RootDir             string   `yaml:"root_dir"`
	ListenAddr          string   `yaml:"listen_addr"`
	UpstreamAddr        string   `yaml:"upstream_addr"`
	UpstreamNick        string   `yaml:"upstream_nick"`
	UpstreamPass        string   `yaml:"upstream_pass"`
	Channels            []string `yaml:"channels"`
	UserHandleCacheSize int      `yaml:"user_handle_cache_size"`
	UserDirectoryDBPath string   `yaml:"user_directory_db_path"`
}

// LoadConfig reads and parses a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.UserHandleCacheSize <= 0 {
		cfg.UserHandleCacheSize = 4096
	}
	return &cfg, nil
}

// ConfigWatcher reloads Config from disk whenever the backing file changes,
// handing each successfully parsed revision to onReload. It wraps a single
// fsnotify.Watcher on the config file and re-parses on write events.
type ConfigWatcher struct {
	path     string
	logger   Logger
	onReload func(*Config)

	mu      sync.Mutex
	current *Config
}

// NewConfigWatcher constructs a watcher for path. It does not start
// watching until Run is called.
func NewConfigWatcher(path string, logger Logger, onReload func(*Config)) *ConfigWatcher {
	if logger == nil {
		logger = NewStdLogger()
	}
	return &ConfigWatcher{path: path, logger: WithPrefix(logger, "config: "), onReload: onReload}
}

// Current returns the most recently loaded Config, or nil if Run hasn't
// loaded one yet.
func (w *ConfigWatcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run loads the config once, invokes onReload, then watches for further
// writes until ctx is cancelled. A reload that fails to parse is logged and
// the previous Config is kept in place, so a typo in the file never takes
// down an already-running process.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	if err := w.reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch %q: %w", w.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.logger.Printf("reload failed, keeping previous config: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)
		}
	}
}

func (w *ConfigWatcher) reload() error {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	if w.onReload != nil {
		w.onReload(cfg)
	}
	return nil
}
