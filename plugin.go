package filterbridge

import (
	"context"

	"github.com/beamctl/filterbridge/pkg/log"
)

// Plugin extends a Bridge with optional behavior. Plugins are
// initialized during Start and shut down during Stop.
type Plugin interface {
	// Name returns the plugin identifier used in log lines.
	Name() string

	// Initialize starts the plugin. The context is cancelled when the
	// bridge stops.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown stops the plugin and waits for its goroutines.
	Shutdown(ctx context.Context) error
}

// PluginConfig is the runtime surface handed to each plugin.
type PluginConfig struct {
	// ConfigPath is the TOML configuration file in use, empty when the
	// bridge was configured without one.
	ConfigPath string

	// Current is the configuration the bridge started with.
	Current Config

	// Logger is the bridge logger.
	Logger log.Logger

	// Apply hands a reloaded configuration back to the bridge, which
	// picks up the settings it can change at runtime.
	Apply func(Config)
}
