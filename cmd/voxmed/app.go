package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/application"
	"github.com/rafast/vox-med-app/internal/config"
	"github.com/rafast/vox-med-app/internal/events"
	"github.com/rafast/vox-med-app/internal/logging"
	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/persistence/memory"
	"github.com/rafast/vox-med-app/internal/persistence/migration"
	"github.com/rafast/vox-med-app/internal/persistence/postgres"
	"github.com/rafast/vox-med-app/internal/persistence/sqlite"
	"github.com/rafast/vox-med-app/internal/recurrence"
)

const serviceName = "voxmed"

// storeHandle is what every storage driver offers the commands.
type storeHandle interface {
	Repositories() persistence.Store
	Migrate(ctx context.Context) (int, error)
	MigrationStatus(ctx context.Context) (migration.Status, error)
	Ping(ctx context.Context) error
	Close() error
}

// memoryHandle lets the memory store stand in for a database. It has no
// schema, so migrations are a no-op.
type memoryHandle struct {
	store *memory.Store
}

func (h memoryHandle) Repositories() persistence.Store { return h.store.Repositories() }

func (memoryHandle) Migrate(context.Context) (int, error) { return 0, nil }

func (memoryHandle) MigrationStatus(context.Context) (migration.Status, error) {
	return migration.Status{}, nil
}

func (memoryHandle) Ping(context.Context) error { return nil }

func (memoryHandle) Close() error { return nil }

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(cfg config.Config, w io.Writer) (zerolog.Logger, error) {
	return logging.NewWithWriter(w, cfg.Log.Level, cfg.Log.Format, serviceName)
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storeHandle, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLiteDSN), logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{URL: cfg.PostgresURL, MaxConns: cfg.MaxConns}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		logger.Warn().Msg("memory storage selected; data is lost on exit")
		return memoryHandle{store: memory.New()}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// openEvents builds the queue over the configured sinks. The returned close
// func drains the queue and then releases sink connections.
func openEvents(ctx context.Context, cfg config.EventsConfig, logger zerolog.Logger) (*events.Queue, func(context.Context) error, error) {
	var (
		sinks   []events.Sink
		closers []io.Closer
	)
	release := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i].Close())
		}
		return errors.Join(errs...)
	}

	for _, name := range cfg.SinkNames() {
		switch name {
		case events.SinkLog:
			sinks = append(sinks, events.NewLogSink(logger))
		case events.SinkRedis:
			client, err := events.DialRedis(ctx, cfg.RedisAddr)
			if err != nil {
				return nil, nil, errors.Join(err, release())
			}
			closers = append(closers, client)
			sinks = append(sinks, events.NewRedisSink(client))
		case events.SinkAMQP:
			sink, err := events.DialAMQP(cfg.AMQPURL)
			if err != nil {
				return nil, nil, errors.Join(err, release())
			}
			closers = append(closers, sink)
			sinks = append(sinks, sink)
		}
	}

	queue := events.NewQueue(cfg.Buffer, logger, sinks...)
	closeAll := func(ctx context.Context) error {
		return errors.Join(queue.Close(ctx), release())
	}
	return queue, closeAll, nil
}

type services struct {
	auth         *application.AuthService
	rules        *application.ScheduleRuleService
	exceptions   *application.ScheduleExceptionService
	appointments *application.AppointmentService
	availability *application.AvailabilityService
}

func newIDGenerator() func() string {
	return uuid.NewString
}

func newAuthService(cfg config.Config, store persistence.Store, logger zerolog.Logger) *application.AuthService {
	return application.NewAuthService(store.Actors, []byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL, newIDGenerator(), time.Now, logger)
}

func newServices(cfg config.Config, store persistence.Store, publisher application.EventPublisher, logger zerolog.Logger) services {
	loc := cfg.Clinic.Location()
	availability := application.NewAvailabilityService(store, recurrence.NewEngine(loc), cfg.Availability.CacheSize, cfg.Availability.CacheTTL, logger)
	deps := application.Dependencies{
		Store:       store,
		Events:      publisher,
		Slots:       availability,
		IDGenerator: newIDGenerator(),
		Now:         time.Now,
		Location:    loc,
		Logger:      logger,
	}
	return services{
		auth:         newAuthService(cfg, store, logger),
		rules:        application.NewScheduleRuleService(deps),
		exceptions:   application.NewScheduleExceptionService(deps),
		appointments: application.NewAppointmentService(deps),
		availability: availability,
	}
}
