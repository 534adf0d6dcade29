package filterbridge

import "github.com/beamctl/filterbridge/pkg/log"

// Option configures optional behavior of a Bridge.
type Option func(*options)

// options holds the optional configuration for a Bridge instance.
type options struct {
	logger     log.Logger
	configPath string
	plugins    []Plugin
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConfigPath records the TOML configuration file the bridge was
// loaded from, making it available to plugins such as the config
// watcher.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithPlugin registers a plugin. Plugins initialize in registration
// order on Start and shut down in reverse order on Stop.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}
