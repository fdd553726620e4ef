package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/entitlement"
	"github.com/mmdatafocus/pathway_backend/events"
	"github.com/mmdatafocus/pathway_backend/handlers"
	"github.com/mmdatafocus/pathway_backend/ledger"
	"github.com/mmdatafocus/pathway_backend/middlewares"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/payments"
	"github.com/mmdatafocus/pathway_backend/reports"
	"github.com/mmdatafocus/pathway_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	connectAttempts = 5
	shutdownTimeout = 30 * time.Second
)

// app holds everything main has to close on shutdown.
type app struct {
	router *gin.Engine
	db     *gorm.DB
	redis  *redis.Client
	pubsub *pubsub.Client
	topic  *pubsub.Topic
}

func (a *app) close() {
	if a.topic != nil {
		a.topic.Stop()
	}
	if a.pubsub != nil {
		_ = a.pubsub.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func main() {
	logger := config.GetLogger()
	settings := config.LoadSettings()
	if err := settings.Validate(); err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err.Error())
	}
	if settings.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a, err := newApp(sigCtx, settings, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Fatal(err.Error())
	}
	defer a.close()

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{
		"port":       settings.Port,
		"production": settings.Production,
		"ledger":     settings.LedgerBackend,
		"reports":    settings.ReportStore,
	}).Info("server started")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

func newApp(ctx context.Context, settings *config.Settings, logger *logrus.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if settings.RedisAddress != "" {
		client, err := config.ConnectRedisWithRetry(ctx, settings.RedisAddress, connectAttempts)
		if err != nil {
			if settings.ReportStore == config.ReportStoreRedis {
				return nil, err
			}
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable, continuing without it: " + err.Error())
		}
		a.redis = client
	}

	issuer, err := newIssuer(settings, logger)
	if err != nil {
		return nil, err
	}
	verifier, err := payments.NewVerifier(settings.WebhookSecret, payments.NewSignaturePolicy(settings.Production, settings.RequireSignatureInDev))
	if err != nil {
		return nil, err
	}

	store, eventLog, err := a.newLedger(settings, logger)
	if err != nil {
		return nil, err
	}

	var reportStore reports.Store = reports.NewMemoryStore()
	if settings.ReportStore == config.ReportStoreRedis {
		reportStore = reports.NewRedisStore(a.redis, settings.ReportTTL)
	}
	renderer, err := reports.NewPDFRenderer(settings.PDFFontPath)
	if err != nil {
		return nil, utils.NewConfigurationError("PDF_FONT_PATH is not a readable font", err)
	}
	reportSvc := reports.NewService(reportStore, reports.NewTemplateGenerator(), renderer, logger)

	publisher := a.newPublisher(ctx, settings, logger)

	opts := payments.Options{
		DefaultProvider: settings.DefaultProvider,
		BetaAccessCode:  settings.BetaAccessCode,
		CouponCodes:     settings.CouponCodes,
	}
	if settings.ReportPrice != "" {
		price, err := utils.ParseAmount(settings.ReportPrice)
		if err != nil {
			return nil, utils.NewConfigurationError("REPORT_PRICE must be a positive amount", err)
		}
		opts.ReportPrice = price
	}

	registry := payments.NewRegistry(
		payments.NewLemonSqueezyAdapter(settings.LemonSqueezy, settings.ProviderTimeout),
		payments.NewCryptoAdapter(settings.Crypto, settings.ProviderTimeout),
	)
	if _, err := registry.Get(settings.DefaultProvider); err != nil {
		return nil, utils.NewConfigurationError("unsupported DEFAULT_PAYMENT_PROVIDER " + settings.DefaultProvider)
	}
	paymentSvc := payments.NewService(payments.Deps{
		Registry:  registry,
		Store:     store,
		EventLog:  eventLog,
		Issuer:    issuer,
		Verifier:  verifier,
		Publisher: publisher,
		Reports:   reportSvc,
		Logger:    logger,
	}, opts)

	r := gin.New()
	r.Use(middlewares.CorrelationID())
	r.Use(cors.New(corsConfig(settings)))
	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())

	var limiter gin.HandlerFunc
	if settings.RateLimit.Enabled {
		limiter = middlewares.RateLimit(a.redis, settings.RateLimit.MaxRequests, settings.RateLimit.Window, logger)
	}
	handlers.New(paymentSvc, reportSvc, issuer, logger, settings.Production).Register(r, limiter)
	a.router = r

	ok = true
	return a, nil
}

// newIssuer falls back to a per-process random secret outside production, so
// tokens stop verifying after a restart.
func newIssuer(settings *config.Settings, logger *logrus.Logger) (*entitlement.Issuer, error) {
	secret := settings.EntitlementSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(buf)
		logger.WithFields(logrus.Fields{"field": "config"}).Warn("ENTITLEMENT_SECRET not set; using an ephemeral signing secret")
	}
	return entitlement.NewIssuer(secret, settings.EntitlementTTL)
}

func (a *app) newLedger(settings *config.Settings, logger *logrus.Logger) (ledger.Store, ledger.EventLog, error) {
	var (
		store    ledger.Store
		eventLog ledger.EventLog
	)
	switch settings.LedgerBackend {
	case config.LedgerBackendMySQL:
		db, err := config.ConnectDatabaseWithRetry(settings.Database, connectAttempts)
		if err != nil {
			return nil, nil, err
		}
		a.db = db
		// AutoMigrate can block tables; large deployments run cmd/migrate instead.
		if !settings.SkipMigrations {
			if err := models.MigrateTable(db); err != nil {
				return nil, nil, err
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
		store = ledger.NewGormStore(db)
		eventLog = ledger.NewGormEventLog(db)
	default:
		store = ledger.NewMemoryStore()
		eventLog = ledger.NewMemoryEventLog()
	}

	if a.redis != nil {
		if locker := config.GetRedisLock(); locker != nil {
			store = ledger.NewLockingStore(store, locker, logger)
		}
	}
	return store, eventLog, nil
}

func (a *app) newPublisher(ctx context.Context, settings *config.Settings, logger *logrus.Logger) events.Publisher {
	if settings.PubSubTopic == "" {
		return events.NewLogPublisher(logger)
	}
	client, topic, err := config.NewPubSubTopic(ctx, settings.PubSubProjectID, settings.PubSubTopic, settings.PubSubCredentialsJSON)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("pubsub unavailable, audit events go to the log: " + err.Error())
		return events.NewLogPublisher(logger)
	}
	a.pubsub = client
	a.topic = topic
	return events.NewPubSubPublisher(topic, logger)
}

// corsConfig allows every origin outside production. In production only
// CORS_ALLOWED_ORIGINS is allowed, and an empty list denies all.
func corsConfig(settings *config.Settings) cors.Config {
	c := cors.DefaultConfig()
	if settings.Production {
		c.AllowOrigins = settings.CORSAllowedOrigins
		if len(c.AllowOrigins) == 0 {
			c.AllowOrigins = []string{}
			c.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		c.AllowAllOrigins = true
	}
	c.AddAllowMethods("GET", "POST", "OPTIONS")
	c.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	c.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	c.AllowCredentials = !c.AllowAllOrigins
	return c
}
