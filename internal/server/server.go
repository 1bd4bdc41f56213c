// Package server exposes the progress of a harness run over HTTP while the
// run is going: a JSON status document, host statistics and the Prometheus
// metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/status"
)

// Server serves the status endpoints of one run.
type Server struct {
	tracker  *status.Tracker
	gatherer prometheus.Gatherer
	token    string
	mounts   []string
	log      logrus.FieldLogger
}

// Options configures the status server.
type Options struct {
	Addr string
	// Token, when set, is required as a bearer token on /v1.
	Token string
	// Mounts are reported by /v1/host.
	Mounts []string
}

// NewServer returns an http.Server for the run tracked by tracker.
func NewServer(opts Options, tracker *status.Tracker, gatherer prometheus.Gatherer, log logrus.FieldLogger) *http.Server {
	s := &Server{
		tracker:  tracker,
		gatherer: gatherer,
		token:    opts.Token,
		mounts:   opts.Mounts,
		log:      log,
	}
	return &http.Server{
		Addr:         opts.Addr,
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// The server has 5 seconds to finish the request it is currently handling.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("status server forced to shut down")
		return err
	}
	log.Info("status server stopped")
	return nil
}
