// Package run starts a mixing session.
package run

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/xtmix/internal/conf"
	"github.com/tphakala/xtmix/internal/logging"
	"github.com/tphakala/xtmix/internal/observability"
	"github.com/tphakala/xtmix/internal/session"
)

// Command creates the run command.
func Command(v *viper.Viper) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the configured stream and mix until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), conf.GetSettings(), duration)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().String("backend", "", "Audio backend (virtual, malgo)")
	cmd.Flags().String("device", "", "Device name or ID")
	cmd.Flags().Bool("record", false, "Record the output bus to a WAV file")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics")
	_ = v.BindPFlag("stream.backend", cmd.Flags().Lookup("backend"))
	_ = v.BindPFlag("stream.device", cmd.Flags().Lookup("device"))
	_ = v.BindPFlag("export.enabled", cmd.Flags().Lookup("record"))
	_ = v.BindPFlag("metrics.enabled", cmd.Flags().Lookup("metrics"))

	return cmd
}

// Run mixes until ctx is cancelled, a signal arrives or duration elapses.
func Run(ctx context.Context, settings *conf.Settings, duration time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	log := logging.ForService("run")
	if settings.Log.Enabled {
		level, _ := logging.ParseLevel(settings.Log.Level)
		fileLog, closeLog, err := logging.NewFileLogger(settings.Log.Path, "run", level, settings.Log)
		if err != nil {
			return err
		}
		defer func() { _ = closeLog() }()
		log = fileLog
	}

	var opts []session.Option
	var endpoint *observability.Endpoint
	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		endpoint, err = observability.NewEndpoint(&settings.Metrics, m)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithMetrics(m.Stream))
	}

	e, err := session.NewEngine(settings)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil {
			log.Warn("engine close failed", "error", cerr)
		}
	}()

	s, err := session.New(settings, e, opts...)
	if err != nil {
		return err
	}
	log.Info("session ready",
		"backend", settings.Stream.Backend,
		"system", e.System().String(),
		"aggregate", len(settings.Aggregate.Devices) > 0)

	g, ctx := errgroup.WithContext(ctx)
	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(ctx) })
	}
	g.Go(func() error { return s.Run(ctx) })

	err = g.Wait()
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	log.Info("session finished", slog.Any("status", s.Status()))
	return err
}
