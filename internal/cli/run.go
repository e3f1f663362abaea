package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/headerlock/internal/api"
	"github.com/luckyPipewrench/headerlock/internal/audit"
	"github.com/luckyPipewrench/headerlock/internal/config"
	"github.com/luckyPipewrench/headerlock/internal/engine"
	"github.com/luckyPipewrench/headerlock/internal/metrics"
	"github.com/luckyPipewrench/headerlock/internal/notify"
	"github.com/luckyPipewrench/headerlock/internal/ruletable"
	"github.com/luckyPipewrench/headerlock/internal/store"
)

func runCmd() *cobra.Command {
	var configFile string
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the headerlock daemon",
		Long: `Start the daemon that serves the profile API and keeps the rule
table converged to the persisted profile.

On start the daemon reconciles the rule table against the stored profile
and rebuilds the expiry schedule; an expiry instant that passed while the
process was down fires immediately.

Examples:
  headerlock run                            # defaults (loopback, headerlock.db)
  headerlock run --config headerlock.yaml   # with config file
  headerlock run --listen 127.0.0.1:9000    # override listen address`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			var err error

			if configFile != "" {
				cfg, err = config.Load(configFile)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
			} else {
				cfg = config.Defaults()
			}

			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
			}

			logger, err := audit.New(cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File)
			if err != nil {
				return fmt.Errorf("creating audit logger: %w", err)
			}
			defer logger.Close()

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			emitter, err := buildNotifier(cfg.Notify)
			if err != nil {
				return fmt.Errorf("configuring notifications: %w", err)
			}
			if emitter != nil {
				defer func() { _ = emitter.Close() }()
			}

			mx := metrics.New()
			eng := engine.New(st, ruletable.New(st.DB()), logger, mx, engine.Options{
				Notifier: emitter,
			})

			ctx, cancel := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer cancel()

			if err := eng.Resync(ctx); err != nil {
				return fmt.Errorf("startup resync: %w", err)
			}

			if cfg.ProfilePath != "" {
				watcher := config.NewWatcher(cfg.ProfilePath)
				defer watcher.Close()
				go func() {
					if err := watcher.Start(ctx); err != nil {
						logger.LogServiceError("profile_watch", err)
					}
				}()
				go reloadLoop(ctx, eng, logger, cfg.ProfilePath, watcher.Changes())
			}

			logger.LogStartup(cfg.Listen, cfg.DBPath)
			fmt.Fprintf(os.Stderr, "Headerlock v%s starting\n", Version)
			fmt.Fprintf(os.Stderr, "  Listen:  %s\n", cfg.Listen)
			fmt.Fprintf(os.Stderr, "  DB:      %s\n", cfg.DBPath)
			fmt.Fprintf(os.Stderr, "  Profile: http://%s/api/v1/profile\n", cfg.Listen)
			fmt.Fprintf(os.Stderr, "  Rules:   http://%s/api/v1/rules\n", cfg.Listen)
			fmt.Fprintf(os.Stderr, "  Health:  http://%s/health\n", cfg.Listen)

			srv := api.NewServer(cfg.Listen, eng, mx, cfg.APIToken)
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			logger.LogShutdown("signal received")
			fmt.Fprintln(os.Stderr, "\nHeaderlock stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&listen, "listen", "l", config.DefaultListen, "listen address")

	return cmd
}

// buildNotifier assembles the notification emitter from config. Returns
// nil when no sink is configured.
func buildNotifier(cfg config.NotifyConfig) (*notify.Emitter, error) {
	var sinks []notify.Sink

	if cfg.Webhook.URL != "" {
		var opts []notify.WebhookOption
		if cfg.Webhook.Token != "" {
			opts = append(opts, notify.WithBearerToken(cfg.Webhook.Token))
		}
		if cfg.Webhook.MinSeverity != "" {
			opts = append(opts, notify.WithMinSeverity(notify.ParseSeverity(cfg.Webhook.MinSeverity)))
		}
		sinks = append(sinks, notify.NewWebhookSink(cfg.Webhook.URL, opts...))
	}

	if cfg.Syslog.Address != "" {
		sink, err := notify.NewSyslogSinkFromConfig(
			cfg.Syslog.Address, cfg.Syslog.Facility, cfg.Syslog.Tag, cfg.Syslog.MinSeverity)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return notify.NewEmitter(notify.DefaultInstanceID(), sinks...), nil
}

// reloadLoop re-imports the watched profile file on every change event.
// A broken file is logged and skipped; the persisted profile stays as
// it was.
func reloadLoop(ctx context.Context, eng *engine.Engine, logger *audit.Logger, path string, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			data, err := os.ReadFile(path) //nolint:gosec // G304: path from config
			if err != nil {
				logger.LogProfileReload("error", err.Error())
				continue
			}
			if _, err := eng.Import(ctx, data); err != nil {
				logger.LogProfileReload("rejected", err.Error())
				continue
			}
			logger.LogProfileReload("applied", path)
		}
	}
}
