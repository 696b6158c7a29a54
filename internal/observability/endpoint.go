package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/xtmix/internal/conf"
	"github.com/tphakala/xtmix/internal/logging"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second

// Endpoint serves the Prometheus scrape endpoint.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	log           *slog.Logger
}

// NewEndpoint creates a new metrics endpoint. It fails when metrics are
// disabled in the settings.
func NewEndpoint(settings *conf.MetricsConfig, metrics *Metrics) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, errors.New("metrics not enabled in settings")
	}

	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)

	return &Endpoint{
		listenAddress: settings.Listen,
		metrics:       metrics,
		log:           logging.ForService("metrics"),
		server: &http.Server{
			Addr:              settings.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled and then shuts the server down.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return err
	}
	return e.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		e.log.Info("Metrics endpoint starting", "address", ln.Addr().String())
		errCh <- e.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	e.log.Info("Stopping metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.log.Error("Metrics server shutdown error", "error", err)
		return err
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
