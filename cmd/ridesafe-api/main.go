package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/ridesafe/ridesafe-api/api/swagger"
	"github.com/ridesafe/ridesafe-api/internal/handler"
	"github.com/ridesafe/ridesafe-api/internal/realtime"
	"github.com/ridesafe/ridesafe-api/internal/repository"
	"github.com/ridesafe/ridesafe-api/internal/service"
	"github.com/ridesafe/ridesafe-api/pkg/cache"
	"github.com/ridesafe/ridesafe-api/pkg/config"
	"github.com/ridesafe/ridesafe-api/pkg/database"
	"github.com/ridesafe/ridesafe-api/pkg/jobs"
	"github.com/ridesafe/ridesafe-api/pkg/logger"
	"github.com/ridesafe/ridesafe-api/pkg/mail"
	corsmiddleware "github.com/ridesafe/ridesafe-api/pkg/middleware/cors"
	"github.com/ridesafe/ridesafe-api/pkg/storage"
)

// @title RideSafe API
// @version 1.0.0
// @description School transport admissions, profile change requests and live updates
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logr); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	var feedOpts []realtime.FeedOption
	if cfg.Realtime.BufferSize > 0 {
		feedOpts = append(feedOpts, realtime.WithBufferSize(cfg.Realtime.BufferSize))
	}
	if cfg.Realtime.RedisRelay && redisClient != nil {
		feedOpts = append(feedOpts, realtime.WithRelay(realtime.NewRedisRelay(redisClient, cfg.Realtime.Channel, logr)))
	}
	feed := realtime.NewFeed(logr, feedOpts...)
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("realtime relay stopped", zap.Error(err))
		}
	}()

	var producer *mail.Producer
	if cfg.Mail.Enabled {
		producer, err = mail.NewProducer(mail.Config{
			Brokers:  cfg.Mail.Brokers,
			Topic:    cfg.Mail.Topic,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
		}, logr)
		if err != nil {
			return fmt.Errorf("mail producer: %w", err)
		}
		defer producer.Close() //nolint:errcheck
	}
	mailer := service.NewMailService(producer, metrics, jobs.QueueConfig{
		Workers:    cfg.Mail.Workers,
		MaxRetries: cfg.Mail.Retries,
		Logger:     logr,
	})
	mailer.Start(ctx)
	defer mailer.Stop()

	profileRepo := repository.NewProfileRepository(db)
	admissionRepo := repository.NewAdmissionRepository(db)
	changeRequestRepo := repository.NewChangeRequestRepository(db)
	adminCodeRepo := repository.NewAdminCodeRepository(db)
	syncEventRepo := repository.NewSyncEventRepository(db)
	identityRepo := repository.NewIdentityRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Stats.CacheTTL, logr, cfg.Stats.CacheEnabled)
	syncSvc := service.NewSyncService(db, service.SyncStores{
		Profiles:       profileRepo,
		Admissions:     admissionRepo,
		ChangeRequests: changeRequestRepo,
		Events:         syncEventRepo,
	}, feed, cacheSvc, metrics, logr)
	identitySvc := service.NewIdentityService(identityRepo, profileRepo, cacheRepo, mailer, validate, logr, service.IdentityConfig{
		AccessTokenSecret:   cfg.JWT.Secret,
		AccessTokenExpiry:   cfg.JWT.Expiration,
		Issuer:              cfg.JWT.Issuer,
		MaxLoginAttempts:    cfg.Auth.MaxLoginAttempts,
		LoginAttemptWindow:  cfg.Auth.LoginAttemptWindow,
		VerificationCodeTTL: cfg.Auth.VerificationCodeTTL,
		ResetCodeTTL:        cfg.Auth.ResetCodeTTL,
		VerifyURL:           cfg.Auth.VerifyURL,
		ResetURL:            cfg.Auth.ResetURL,
	})
	adminCodeSvc := service.NewAdminCodeService(adminCodeRepo, cfg.AdminCodes.BypassCodes, syncSvc, logr)
	if err := adminCodeSvc.InitializeDefaults(ctx); err != nil {
		logr.Warn("admin code defaults not seeded", zap.Error(err))
	}
	registrationSvc := service.NewRegistrationService(profileRepo, identitySvc, adminCodeSvc, feed, validate, logr)
	profileSvc := service.NewProfileService(profileRepo, syncSvc, validate, logr)
	admissionSvc := service.NewAdmissionService(admissionRepo, syncSvc, validate, logr)
	changeRequestSvc := service.NewChangeRequestService(changeRequestRepo, syncSvc, validate, logr)
	statsSvc := service.NewStatsService(admissionRepo, changeRequestRepo, cacheSvc, cfg.Stats.CacheTTL, logr)

	var exportHandler *handler.ExportHandler
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.Dir)
		if err != nil {
			return fmt.Errorf("export storage: %w", err)
		}
		exportSvc := service.NewExportService(admissionRepo, store, storage.NewTicketSigner(cfg.Exports.SigningSecret, cfg.Exports.ResultTTL),
			service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Exports.ResultTTL}, logr)
		go purgeExports(ctx, exportSvc, cfg.Exports.ResultTTL, logr)
		exportHandler = handler.NewExportHandler(exportSvc, logr)
	}

	router := newRouter(cfg, logr, metrics, routes{
		auth:           handler.NewAuthHandler(identitySvc, registrationSvc),
		profiles:       handler.NewProfileHandler(profileSvc),
		admissions:     handler.NewAdmissionHandler(admissionSvc),
		changeRequests: handler.NewChangeRequestHandler(changeRequestSvc),
		adminCodes:     handler.NewAdminCodeHandler(adminCodeSvc),
		stats:          handler.NewStatsHandler(statsSvc, metrics),
		exports:        exportHandler,
		realtime: handler.NewRealtimeHandler(feed, realtime.Sources{
			Profiles:       profileRepo,
			Admissions:     admissionRepo,
			ChangeRequests: changeRequestRepo,
		}, identitySvc, metrics, corsmiddleware.CheckOrigin(cfg.CORS.AllowedOrigins), logr),
		metrics:   handler.NewMetricsHandler(metrics, db),
		validator: identitySvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func purgeExports(ctx context.Context, exports *service.ExportService, every time.Duration, logr *zap.Logger) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exports.Cleanup(); err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
			}
		}
	}
}

