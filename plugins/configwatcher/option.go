package configwatcher

import "github.com/beamctl/filterbridge"

// WithConfigWatcher returns an Option that enables config file
// watching. The watched path is the one given to
// filterbridge.WithConfigPath.
//
// Usage:
//
//	b, err := filterbridge.New(cfg,
//	    filterbridge.WithConfigPath(path),
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) filterbridge.Option {
	return filterbridge.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher returns an Option that enables config
// watching with default settings (debounce 100ms).
func WithDefaultConfigWatcher() filterbridge.Option {
	return WithConfigWatcher(DefaultConfig())
}
