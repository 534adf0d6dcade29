// Package configwatcher provides live configuration reload for
// filterbridge. When enabled, it watches the TOML config file and
// hands reloaded settings back to the bridge, so the frame timeout and
// probe interval can change without a restart.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beamctl/filterbridge"
	"github.com/beamctl/filterbridge/internal/cliconfig"
	"github.com/beamctl/filterbridge/pkg/log"
)

// Plugin watches the configuration file for changes. The parent
// directory is watched rather than the file itself, so editors that
// replace the file atomically still trigger a reload.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration

	configPath string
	base       filterbridge.Config
	apply      func(filterbridge.Config)
	logger     log.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is the quiet period after a file change before the
	// reload runs. Default: 100 milliseconds.
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 100 * time.Millisecond}
}

// New creates a config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{debounceDelay: cfg.DebounceDelay}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts the watcher loop. With no config path or no apply
// callback the plugin stays disabled and Initialize succeeds.
func (p *Plugin) Initialize(ctx context.Context, cfg filterbridge.PluginConfig) error {
	p.mu.Lock()
	p.configPath = cfg.ConfigPath
	p.base = cfg.Current
	p.apply = cfg.Apply
	p.logger = cfg.Logger
	p.mu.Unlock()

	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	if p.configPath == "" || p.apply == nil {
		p.logger.Warn("config watcher disabled: no config file in use")
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher initialized", log.String("path", p.configPath))

	p.wg.Add(1)
	go p.watchLoop(watchCtx)
	return nil
}

// Shutdown stops the watcher and waits for its goroutine.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

// watchLoop waits for changes to the config file and debounces them
// into reloads.
func (p *Plugin) watchLoop(ctx context.Context) {
	defer p.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Error("config watcher: create watcher failed", log.Err(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.configPath)); err != nil {
		p.logger.Error("config watcher: watch directory failed", log.Err(err))
		return
	}

	// Apply the on-disk state once at startup so a file edited while
	// the bridge was down still takes effect.
	p.reload()

	watched := filepath.Base(p.configPath)
	for {
		select {
		case <-ctx.Done():
			p.stopDebounce()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != watched {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) scheduleReload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, p.reload)
}

func (p *Plugin) stopDebounce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
}

// reload re-parses the config file over the startup configuration and
// hands the result to the bridge. Keys absent from the file keep their
// startup values.
func (p *Plugin) reload() {
	fc, err := cliconfig.LoadFileConfig(p.configPath)
	if err != nil {
		p.logger.Warn("config watcher: reload skipped", log.Err(err))
		return
	}

	cfg := p.base
	if err := cliconfig.ApplyFileConfig(&cfg, fc, nil); err != nil {
		p.logger.Warn("config watcher: invalid config, reload skipped", log.Err(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		p.logger.Warn("config watcher: invalid config, reload skipped", log.Err(err))
		return
	}

	p.apply(cfg)
}

// Ensure Plugin implements filterbridge.Plugin.
var _ filterbridge.Plugin = (*Plugin)(nil)
