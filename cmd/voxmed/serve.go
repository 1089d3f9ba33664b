package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rafast/vox-med-app/internal/config"
	httptransport "github.com/rafast/vox-med-app/internal/http"
)

const healthTimeout = 2 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, os.Stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to close storage")
		}
	}()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("migrations applied")
	}

	queue, closeEvents, err := openEvents(ctx, cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("open event sinks: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if cerr := closeEvents(drainCtx); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to close event sinks")
		}
	}()

	svc := newServices(cfg, store.Repositories(), queue, logger)
	loc := cfg.Clinic.Location()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:         httptransport.NewAuthHandler(svc.auth, logger),
		Rules:        httptransport.NewRuleHandler(svc.rules, logger),
		Exceptions:   httptransport.NewExceptionHandler(svc.exceptions, logger),
		Appointments: httptransport.NewAppointmentHandler(svc.appointments, loc, logger),
		Availability: httptransport.NewAvailabilityHandler(svc.availability, logger),
		Authenticate: httptransport.RequireActor(svc.auth, logger),
		Health: func(r *http.Request) error {
			pingCtx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			return store.Ping(pingCtx)
		},
		Middleware: []func(http.Handler) http.Handler{
			httptransport.Recoverer(logger),
			httptransport.RequestLogger(logger),
		},
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("failed to shutdown server")
		}
	}()

	logger.Info().
		Str("addr", server.Addr).
		Str("storage", cfg.Storage.Driver).
		Strs("event_sinks", cfg.Events.SinkNames()).
		Str("timezone", loc.String()).
		Msg("voxmed API listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	<-shutdownDone
	return nil
}
