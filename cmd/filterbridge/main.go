package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/beamctl/filterbridge"
	"github.com/beamctl/filterbridge/internal/cliconfig"
	logadapter "github.com/beamctl/filterbridge/pkg/log"
	"github.com/beamctl/filterbridge/plugins/configwatcher"
)

const longHelp = `
Bridge a process-control layer to a fast attenuation filter controller.

Highlights:
  - Keeps the control and event channels alive across broker restarts.
  - Infers device liveness from status replies; commands issued while
    the device is unreachable are dropped, never replayed stale.
  - Records per-frame attenuation data into a growable dataset file
    that external tools can tail while the acquisition runs.
`

var exampleUsage = strings.TrimSpace(`
  filterbridge --data-dir /data/beamline
  filterbridge --config /etc/filterbridge/config.toml --metrics-addr :9090
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	logger := logadapter.NewZerologAdapterWithLogger(zl)

	root := &cobra.Command{
		Use:     "filterbridge",
		Short:   "Bridge a process-control layer to a fast attenuation filter controller",
		Long:    strings.TrimSpace(longHelp),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Precedence: defaults < file < environment < flags.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			} else {
				cfgFile = ""
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger.Info("configuration loaded",
				logadapter.String("device_name", cfg.DeviceName),
				logadapter.String("broker_url", cfg.BrokerURL),
				logadapter.String("control_subject", cfg.ControlSubject),
				logadapter.String("event_subject", cfg.EventSubject),
				logadapter.String("target_path", cfg.TargetPath()),
			)

			b, err := filterbridge.New(cfg,
				filterbridge.WithLogger(logger),
				filterbridge.WithConfigPath(cfgFile),
				configwatcher.WithDefaultConfigWatcher(),
			)
			if err != nil {
				return fmt.Errorf("create bridge: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := b.Start(ctx); err != nil {
				return fmt.Errorf("start bridge: %w", err)
			}

			var metricsSrv *http.Server
			if cfg.MetricsAddr != "" {
				metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: b.MetricsHandler()}
				go func() {
					logger.Info("metrics listener started",
						logadapter.String("addr", cfg.MetricsAddr))
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics listener failed", logadapter.Err(err))
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received signal, stopping", logadapter.String("signal", sig.String()))

			if metricsSrv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsSrv.Shutdown(shutdownCtx)
				shutdownCancel()
			}

			if err := b.Stop(); err != nil {
				return fmt.Errorf("stop bridge: %w", err)
			}
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.filterbridge/config.toml)")
	root.Flags().StringVar(&cfg.BrokerURL, "broker-url", cfg.BrokerURL, "message broker URL")
	root.Flags().StringVar(&cfg.ControlSubject, "control-subject", cfg.ControlSubject, "request/reply control channel subject")
	root.Flags().StringVar(&cfg.EventSubject, "event-subject", cfg.EventSubject, "frame event channel subject")
	root.Flags().StringVar(&cfg.DeviceName, "device-name", cfg.DeviceName, "device name used in log lines")
	root.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for dataset files")
	root.Flags().StringVar(&cfg.FileName, "file-name", cfg.FileName, "dataset file name inside data-dir")
	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address for the Prometheus metrics listener (disabled when empty)")
	root.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "status probe period while connected")
	root.Flags().DurationVar(&cfg.RetryInterval, "retry-interval", cfg.RetryInterval, "probe retry period while disconnected")
	root.Flags().DurationVar(&cfg.FrameTimeout, "frame-timeout", cfg.FrameTimeout, "device idle time after which an open dataset file closes")
	root.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "bound on worker shutdown")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
