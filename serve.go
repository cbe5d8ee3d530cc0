package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chartbridge/chartbridge/internal/config"
	"github.com/chartbridge/chartbridge/internal/server"
)

// serveHTTP runs the server until SIGINT or SIGTERM, then shuts down
// gracefully within the configured timeout. In-flight requests get the full
// timeout to complete; the listener stops accepting immediately.
func serveHTTP(cfg config.ServerConfig, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var hooks server.ShutdownHooks
	hooks.AddContext("http server", srv.Shutdown)

	serveError := make(chan error, 1)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serveError <- err
		}
		close(serveError)
	}()

	select {
	case err := <-serveError:
		// startup failure: no shutdown required
		return err
	case <-ctx.Done():
		stop()
	}

	log.Info().Msg("server stopping")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	hooks.Execute(shutdownCtx)

	// surface any error from the serve loop itself
	if err := <-serveError; err != nil {
		return err
	}

	log.Info().Msg("server stopped")

	return nil
}
