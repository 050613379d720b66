package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"screentime/internal/config"
	"screentime/internal/handlers"
	"screentime/internal/identity"
	"screentime/internal/repository"
	"screentime/internal/syncer"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sync loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg, opts.logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	issuer, err := identity.NewIssuer(cfg.TokenSecret, 0)
	if err != nil {
		return fmt.Errorf("device tokens need a secret: %w", err)
	}
	device, err := deviceIdentity(cfg, issuer)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, device, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	familyIDs, err := syncedFamilies(ctx, a.store, device)
	if err != nil {
		return err
	}

	manager := syncer.NewManager(a.feed, a.coordinator, a.activity,
		syncer.NewChangeDetector(syncer.StoreSource{Store: a.store}, a.detector),
		syncer.Options{
			Families:            familyIDs,
			DeviceID:            device.DeviceID,
			PollInterval:        cfg.PollInterval,
			MaintenanceInterval: cfg.MaintenanceInterval,
			DebounceInterval:    cfg.DebounceInterval,
			StoreTimeout:        cfg.StoreTimeout,
			Logger:              logger,
		})

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := handlers.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	router := handlers.NewRouter(handlers.RouterDeps{
		Middleware:   handlers.NewMiddleware(issuer, limiter, logger),
		Families:     handlers.NewFamilyHandler(a.families, logger),
		Coordination: handlers.NewCoordinationHandler(a.repo, a.coordinator, a.activity, logger),
		Metrics:      promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("device_id", device.DeviceID),
			zap.Int("families", len(familyIDs)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return manager.Run(ctx)
	})
	g.Go(func() error {
		limiter.Run(ctx, time.Hour)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// deviceIdentity reads DEVICE_TOKEN when set. Without one the process acts
// as an anonymous node with a generated device ID and syncs every family.
func deviceIdentity(cfg *config.Config, issuer *identity.Issuer) (identity.Identity, error) {
	if cfg.DeviceToken != "" {
		id, err := issuer.Parse(cfg.DeviceToken)
		if err != nil {
			return identity.Identity{}, fmt.Errorf("failed to read DEVICE_TOKEN: %w", err)
		}
		return id, nil
	}

	deviceID, err := identity.GenerateDeviceID()
	if err != nil {
		return identity.Identity{}, fmt.Errorf("failed to generate device id: %w", err)
	}
	return identity.Identity{DeviceID: deviceID}, nil
}

func syncedFamilies(ctx context.Context, store *repository.Store, device identity.Identity) ([]string, error) {
	if device.UserID == "" {
		return store.Families.ListFamilyIDs(ctx)
	}

	families, err := store.Families.FetchFamiliesForUser(ctx, device.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list families for %s: %w", device.UserID, err)
	}
	ids := make([]string, 0, len(families))
	for _, f := range families {
		ids = append(ids, f.ID)
	}
	return ids, nil
}
