package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/internal/events"
	"github.com/MarkoPoloResearchLab/courtbook/internal/lock/redislock"
	"github.com/MarkoPoloResearchLab/courtbook/internal/observability"
	"github.com/MarkoPoloResearchLab/courtbook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

// application holds the wired engine components for one command run.
type application struct {
	logger    *zap.Logger
	recorder  *observability.Recorder
	store     *gormstore.Store
	engine    *booking.Engine
	generator *booking.Generator
	ledger    *ledger.Service
	closers   []func() error
}

func epochMillis() int64 {
	return time.Now().UnixMilli()
}

func newApplication(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*application, error) {
	app := &application{logger: logger}
	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	app.closers = append(app.closers, cleanup)
	if err := prepareSchema(gormDB, driver); err != nil {
		app.Close()
		return nil, err
	}

	recorder, err := observability.NewRecorder(logger, nil)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	app.recorder = recorder
	app.store = gormstore.New(gormDB, epochMillis)

	var locker booking.Locker = booking.NewMemoryLocker()
	if cfg.RedisURL != "" {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(options)
		app.closers = append(app.closers, client.Close)
		locker = redislock.New(client, redislock.WithLogger(logger))
	}

	engineOptions := []booking.EngineOption{
		booking.WithSettlement(cfg.Settlement),
		booking.WithRefundPolicy(cfg.RefundPolicy),
		booking.WithLockTimeout(cfg.LockTimeout),
		booking.WithObserver(recorder),
	}
	generatorOptions := []booking.GeneratorOption{booking.WithGeneratorObserver(recorder)}
	if cfg.AMQPURL != "" {
		exchange := cfg.Exchange
		if exchange == "" {
			exchange = events.DefaultExchange
		}
		publisher, err := events.Dial(cfg.AMQPURL, exchange)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, publisher.Close)
		engineOptions = append(engineOptions, booking.WithPublisher(publisher))
		generatorOptions = append(generatorOptions, booking.WithGeneratorPublisher(publisher))
	}

	if app.engine, err = booking.NewEngine(app.store, locker, epochMillis, engineOptions...); err != nil {
		app.Close()
		return nil, err
	}
	if app.generator, err = booking.NewGenerator(app.store, epochMillis, generatorOptions...); err != nil {
		app.Close()
		return nil, err
	}
	if app.ledger, err = ledger.NewService(app.store.Ledger(), epochMillis, ledger.WithOperationLogger(recorder)); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close releases resources in reverse acquisition order.
func (app *application) Close() {
	for index := len(app.closers) - 1; index >= 0; index-- {
		if err := app.closers[index](); err != nil {
			app.logger.Warn("close failed", zap.Error(err))
		}
	}
	app.closers = nil
}
