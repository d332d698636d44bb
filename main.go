package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XeroHax/accountability-app/billing"
	"github.com/XeroHax/accountability-app/config"
	"github.com/XeroHax/accountability-app/db"
	"github.com/XeroHax/accountability-app/handlers"
	"github.com/XeroHax/accountability-app/kafka"
	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/memstore"
	"github.com/XeroHax/accountability-app/middleware"
	"github.com/XeroHax/accountability-app/mongodb"
	"github.com/XeroHax/accountability-app/scheduler"
	"github.com/XeroHax/accountability-app/sse"
	"github.com/XeroHax/accountability-app/tasks"
	"github.com/XeroHax/accountability-app/worker"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// store is what both the task service and the provisioner persist to.
type store interface {
	tasks.Repository
	billing.SubscriptionStore
}

func main() {
	standalone := flag.Bool("standalone", false, "use the in-process store instead of MongoDB")
	flag.Parse()

	cfg := config.Load()
	cfg.Standalone = *standalone || cfg.MongoURI == ""

	if err := logger.Init(cfg.Development, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Get()
	if !cfg.EnvFileLoaded {
		log.Warn(".env file not found, using process environment")
	}
	if cfg.EnvironmentDefaulted {
		log.Warn("ENVIRONMENT not set, running with production settings")
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store
	if cfg.Standalone {
		log.Warn("running standalone, data is kept in memory only")
		st = memstore.New()
	} else {
		if err := mongodb.InitMongoDB(cfg.MongoURI); err != nil {
			log.Fatal("failed to initialize MongoDB", zap.Error(err))
		}
		defer mongodb.CloseMongoDB()
		ms := mongodb.NewStore(mongodb.MongoClient, cfg.MongoDatabase)
		if err := ms.EnsureIndexes(ctx); err != nil {
			log.Fatal("failed to create indexes", zap.Error(err))
		}
		st = ms
	}

	var ledger billing.Ledger = billing.NopLedger{}
	if cfg.DatabaseURL != "" {
		if err := db.InitDB(ctx, cfg.DatabaseURL); err != nil {
			log.Fatal("failed to initialize ledger database", zap.Error(err))
		}
		defer db.CloseDB()
		l := db.NewLedger(db.DB)
		if err := l.Migrate(ctx); err != nil {
			log.Fatal("failed to migrate ledger database", zap.Error(err))
		}
		ledger = l
	} else {
		log.Info("DATABASE_URL not set, webhook deduplication disabled")
	}

	var provisioner *billing.Provisioner
	if cfg.PaymentsEnabled() {
		provisioner = billing.NewProvisioner(
			billing.NewStripeGateway(cfg.StripeSecretKey), st, cfg.SiteURL,
			billing.WithLedger(ledger),
			billing.WithFallbacks(billing.Fallbacks{
				UserID:                 cfg.StripeCLIUserID,
				SyntheticSubscriptions: cfg.StripeCLISyntheticSubscriptions,
			}),
		)
		if cfg.StripeWebhookSecret == "" {
			log.Warn("STRIPE_WEBHOOK_SECRET not set, webhooks will be rejected")
		}
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, payments are disabled")
	}

	hub := sse.NewHub(sse.DefaultBuffer)
	pool := worker.NewWorkerPool(cfg.Workers, hub)
	pool.Start()

	var publisher tasks.Publisher = pool
	var producer *kafka.Producer
	if cfg.KafkaEnabled() {
		var err error
		producer, err = kafka.NewProducer(cfg)
		if err != nil {
			log.Fatal("failed to create Kafka producer", zap.Error(err))
		}
		instance := uuid.NewString()
		if err := kafka.StartConsumer(ctx, cfg, instance, pool); err != nil {
			log.Fatal("failed to start Kafka consumer", zap.Error(err))
		}
		publisher = producer
	}

	svc := tasks.NewService(st, publisher, tasks.WithPolicy(tasks.Policy{CapRepsAtCeiling: cfg.RepsCapAtCeiling}))

	sched, err := scheduler.New(svc, time.UTC)
	if err != nil {
		log.Fatal("failed to create scheduler", zap.Error(err))
	}
	sched.Start()

	limiter := middleware.NewRateLimiter(cfg.CheckoutRateLimit, cfg.CheckoutRateBurst)
	limiter.StartCleanup(5*time.Minute, ctx.Done())

	api := &handlers.API{
		Tasks:          svc,
		Billing:        provisioner,
		Subscriptions:  st,
		Hub:            hub,
		Pool:           pool,
		Auth:           middleware.NewAuthenticator(cfg.ProjectID, middleware.WithHMACSecret(cfg.AuthJWTSecret)),
		Limiter:        limiter,
		CorsOrigin:     cfg.CorsOrigin,
		WebhookSecret:  cfg.StripeWebhookSecret,
		InternalAPIKey: cfg.InternalAPIKey,
	}
	router := api.Router()
	router.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.Bool("standalone", cfg.Standalone))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	if producer != nil {
		producer.Close(5 * time.Second)
	}
	pool.Stop()
}
