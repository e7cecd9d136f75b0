package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/homestead-systems/assistant-core/internal/audit"
	"github.com/homestead-systems/assistant-core/internal/breaker"
	"github.com/homestead-systems/assistant-core/internal/cache"
	"github.com/homestead-systems/assistant-core/internal/config"
	"github.com/homestead-systems/assistant-core/internal/connstate"
	"github.com/homestead-systems/assistant-core/internal/credential"
	"github.com/homestead-systems/assistant-core/internal/extsession"
	"github.com/homestead-systems/assistant-core/internal/httpserver"
	"github.com/homestead-systems/assistant-core/internal/notify"
	"github.com/homestead-systems/assistant-core/internal/order"
	"github.com/homestead-systems/assistant-core/internal/telemetry"
	"github.com/homestead-systems/assistant-core/internal/authsvc"
	"github.com/homestead-systems/assistant-core/internal/token"
	"github.com/homestead-systems/assistant-core/internal/txn"
	"github.com/homestead-systems/assistant-core/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.AppEnv)
	log.Info("application_startup", "env", cfg.AppEnv)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.AppEnv, TracesSampleRate: 1.0}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(telemetry.All()...)

	ctx := context.Background()

	manager := connstate.New(func(ctx context.Context) (*mongo.Client, error) {
		return mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	})
	if err := manager.EnsureConnected(ctx, 5); err != nil {
		log.Error("document_store_connect_failed", "error", err)
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
	client, _ := manager.TryAcquire()
	db := client.Database(cfg.MongoDB)

	runtime := txn.NewRuntime(client, db, log, 10*time.Second)

	tokenSvc, err := token.NewService([]byte(cfg.JWTSecret))
	if err != nil {
		log.Error("token_service_init_failed", "error", err)
		os.Exit(1)
	}

	auditLogger := audit.NewMongoLogger(log)

	providers := map[string]credential.Provider{}
	passwordProvider := credential.NewPasswordProvider(auditLogger, tokenSvc)
	providers[passwordProvider.Name()] = passwordProvider

	if cfg.OAuthIssuerURL != "" {
		oauthProvider, err := credential.NewOAuthProvider(ctx, "default", cfg.OAuthIssuerURL, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRedirectURL, []string{"openid", "email"}, auditLogger)
		if err != nil {
			log.Error("oauth_provider_init_failed", "error", err)
		} else {
			providers[oauthProvider.Name()] = oauthProvider
		}
	}

	artifactCache, err := cache.New(cfg.CacheDir, cache.DefaultTTL)
	if err != nil {
		log.Error("artifact_cache_init_failed", "error", err)
		os.Exit(1)
	}

	sessionStore, err := extsession.NewDiskStore(cfg.ExternalSessionBaseDir)
	if err != nil {
		log.Error("session_store_init_failed", "error", err)
		os.Exit(1)
	}
	sessionRegistry := extsession.NewRegistry(sessionStore, order.NewDevSessionFactory())

	authService := authsvc.New(runtime, tokenSvc, providers, auditLogger, sessionRegistry, artifactCache)

	var availCache, loginCache breaker.AvailabilityCache
	if cfg.RedisURL != "" {
		redisClient, err := breaker.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis_connect_failed", "error", err, "detail", "falling_back_to_in_process_cache")
			availCache = breaker.NewInProcessAvailabilityCache(0)
			loginCache = breaker.NewInProcessAvailabilityCache(order.ExternalLoginCacheTTL)
		} else {
			availCache = breaker.NewRedisAvailabilityCache(redisClient, 0)
			loginCache = breaker.NewRedisAvailabilityCache(redisClient, order.ExternalLoginCacheTTL)
		}
	} else {
		availCache = breaker.NewInProcessAvailabilityCache(0)
		loginCache = breaker.NewInProcessAvailabilityCache(order.ExternalLoginCacheTTL)
	}

	storeClient := order.NewDevStoreClient(log)
	pipeline := order.NewPipeline(sessionRegistry, authService, storeClient, loginCache, log)

	var cameraClient *breaker.CameraClient
	if cfg.CameraBaseURL != "" {
		cameraClient = breaker.NewCameraClient(cfg.CameraBaseURL, cfg.CameraAPIKey, availCache)
	}

	passthroughNormalizer := func(ctx context.Context, rawItems []string) ([]order.Atom, error) {
		// No external AI collaborator wired; the error makes Preprocess fall back to a raw-line parse.
		return nil, errors.New("no list normalizer configured")
	}

	router := httpserver.NewRouter(httpserver.Config{
		Auth:            authService,
		Connections:     manager,
		Camera:          cameraClient,
		OrderPipeline:   pipeline,
		Normalizer:      passthroughNormalizer,
		Artifacts:       artifactCache,
		Mailer:          notify.NewDevMailer(log),
		AppURL:          cfg.AppURL,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
		MetricsRegistry: registry,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			_ = srv.Close()
		}

		if err := manager.Disconnect(shutdownCtx); err != nil {
			log.Error("document_store_disconnect_failed", "error", err)
		}

		log.Info("server_shutdown_complete")
	}
}
