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

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mekongeats/api/internal/di"
	"github.com/mekongeats/api/internal/handlers"
	"github.com/mekongeats/api/internal/payments"
	"github.com/mekongeats/api/internal/platform/auth"
	"github.com/mekongeats/api/internal/platform/config"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
	"github.com/mekongeats/api/internal/platform/idempotency"
	"github.com/mekongeats/api/internal/platform/jobs"
	"github.com/mekongeats/api/internal/platform/observability"
	firestorerepo "github.com/mekongeats/api/internal/repositories/firestore"
	"github.com/mekongeats/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("config", cfg.String()))

	firestoreProvider := pfirestore.NewProvider(pfirestore.Settings{
		ProjectID:    cfg.Firestore.ProjectID,
		EmulatorHost: cfg.Firestore.EmulatorHost,
	})
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestorerepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to build repository registry", zap.Error(err))
	}

	gateway, err := payments.NewWalletClient(payments.WalletConfig{
		Endpoint:    cfg.Gateway.Endpoint,
		PartnerCode: cfg.Gateway.PartnerCode,
		AccessKey:   cfg.Gateway.AccessKey,
		SecretKey:   cfg.Gateway.SecretKey,
		IPNURL:      cfg.Gateway.IPNURL,
		RedirectURL: cfg.Gateway.RedirectURL,
		Timeout:     cfg.Gateway.Timeout,
		MaxRetries:  cfg.Gateway.MaxRetries,
	})
	if err != nil {
		logger.Fatal("failed to initialise wallet gateway client", zap.Error(err))
	}

	dedupe := idempotency.NewFirestoreStore(firestoreClient,
		idempotency.WithCollection(cfg.Idempotency.CollectionID),
	)

	var events services.EventPublisher
	if cfg.PubSub.Enabled && cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		topic := pubsubClient.Topic(cfg.PubSub.TopicID)
		defer topic.Stop()

		publisher, err := jobs.NewPubSubEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		events = publisher
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Deps{
		Gateway: gateway,
		Dedupe:  dedupe,
		Events:  events,
		Logger:  observability.ServiceLogger(logger),
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, auth.FirebaseSettings{
		ProjectID:       cfg.Firebase.ProjectID,
		CredentialsFile: cfg.Firebase.CredentialsFile,
	})
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authn := auth.NewAuthenticator(verifier)

	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go runDedupeCleanup(cleanupCtx, logger, dedupe, cfg.Idempotency.CleanupInterval)

	svc := container.Services
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(svc.System),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(authn, svc.Checkout, svc.Vouchers)
	orderHandlers := handlers.NewOrderHandlers(authn, svc.Orders)
	voucherHandlers := handlers.NewVoucherHandlers(authn, svc.Vouchers)
	notificationHandlers := handlers.NewNotificationHandlers(authn, svc.Notifications)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Checkout)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithSellerRoutes(func(r chi.Router) {
			orderHandlers.SellerRoutes(r)
			voucherHandlers.SellerRoutes(r)
		}),
		handlers.WithVoucherRoutes(voucherHandlers.Routes),
		handlers.WithNotificationRoutes(notificationHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// runDedupeCleanup sweeps expired idempotency records on a fixed interval so
// abandoned reservations do not accumulate.
func runDedupeCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, interval time.Duration) {
	if store == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), 500)
			if err != nil {
				logger.Warn("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency records expired", zap.Int("removed", removed))
			}
		}
	}
}
