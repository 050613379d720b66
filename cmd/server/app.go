package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"screentime/internal/activity"
	"screentime/internal/archive"
	"screentime/internal/changefeed"
	"screentime/internal/config"
	"screentime/internal/conflict"
	"screentime/internal/database"
	"screentime/internal/identity"
	"screentime/internal/metrics"
	"screentime/internal/models"
	"screentime/internal/permission"
	"screentime/internal/repository"
	"screentime/internal/service"
	"screentime/migrations"
)

const feedBuffer = 64

// app is the wired coordination stack for one device process.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	device identity.Identity

	db       *database.DB
	store    *repository.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	archive  archive.Store
	feed     changefeed.Feed

	perms       *permission.Service
	detector    *conflict.Detector
	activity    *activity.Log
	coordinator *service.Coordinator
	repo        *service.PermissionAwareRepository
	families    *service.FamilyService
}

// newApp wires the stack for device. Permission checks on behalf of the
// current user use device.UserID, which is empty for an anonymous node.
func newApp(ctx context.Context, cfg *config.Config, device identity.Identity, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, device: device}

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	logger.Info("database connection established", zap.String("type", cfg.DatabaseType))

	applied, err := db.RunMigrations(ctx, migrations.FS)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("migrations completed", zap.Strings("applied", applied))

	a.store = repository.NewStore(db)
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.archive, err = archive.Open(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	a.feed, err = openFeed(ctx, cfg, a.metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	email, err := service.NewEmailService(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.AppBaseURL, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize email service: %w", err)
	}

	a.perms = permission.NewService(a.store.Families, device.UserID, a.metrics, logger)
	a.detector = conflict.NewDetector(cfg.ConflictWindow, a.metrics, logger)
	a.activity = activity.NewLog(a.store.Activities, activity.Options{
		DeviceID:  device.DeviceID,
		Retention: cfg.ActivityRetention,
		Feed:      a.feed,
		Archive:   a.archive,
		Metrics:   a.metrics,
		Logger:    logger,
	})
	a.coordinator = service.NewCoordinator(service.CoordinatorDeps{
		Store:       service.NewRecordStore(a.store),
		Permissions: a.perms,
		Detector:    a.detector,
		Resolver:    conflict.NewResolver(a.store.Conflicts, a.archive, a.metrics, logger),
		Activity:    a.activity,
		Feed:        a.feed,
		Notifier:    email,
		Strategy:    models.ResolutionStrategy(cfg.ConflictStrategy),
		DeviceID:    device.DeviceID,
		Metrics:     a.metrics,
		Logger:      logger,
	})
	a.repo = service.NewPermissionAwareRepository(service.NewRecordStore(a.store), a.perms, a.coordinator, logger)
	a.families = service.NewFamilyService(a.repo, a.activity)
	return a, nil
}

// openFeed picks Redis when an address is configured and an in-process feed
// otherwise.
func openFeed(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (changefeed.Feed, error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-process change feed")
		return changefeed.NewMemoryFeed(feedBuffer, func(familyID string) {
			m.RecordFeedNotification("dropped")
			logger.Warn("change feed subscriber too slow, dropped notification", zap.String("family_id", familyID))
		}), nil
	}

	client, err := changefeed.NewRedisClient(ctx, changefeed.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("using redis change feed", zap.String("addr", cfg.RedisAddr))
	return changefeed.NewRedisFeed(client, feedBuffer, m, logger), nil
}

func (a *app) Close() {
	if a.activity != nil {
		a.activity.Close()
	}
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			a.logger.Warn("failed to close change feed", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
