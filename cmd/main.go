package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akylbek/commerce/order-lifecycle/internal/api"
	"github.com/akylbek/commerce/order-lifecycle/internal/cache"
	"github.com/akylbek/commerce/order-lifecycle/internal/config"
	"github.com/akylbek/commerce/order-lifecycle/internal/interfaces"
	"github.com/akylbek/commerce/order-lifecycle/internal/messaging"
	"github.com/akylbek/commerce/order-lifecycle/internal/repository"
	"github.com/akylbek/commerce/order-lifecycle/internal/risk"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

const serviceName = "order-lifecycle"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Initialize telemetry
	if err := telemetry.InitTelemetry(serviceName, cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Order Lifecycle service", zap.String("store", cfg.Store))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	policy := risk.DefaultPolicy()
	if cfg.RiskPolicyFile != "" {
		policy, err = risk.LoadPolicy(cfg.RiskPolicyFile)
		if err != nil {
			telemetry.Logger.Fatal("Failed to load risk policy", zap.Error(err))
		}
	}
	telemetry.Logger.Info("Risk policy loaded", zap.String("policy_version", policy.Version))

	// Storage
	var store interfaces.Store
	switch cfg.Store {
	case "memory":
		store = repository.NewMemoryStore()
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pg := repository.NewPostgresStore(db)
		if err := pg.InitDB(ctx); err != nil {
			telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		store = pg
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()
	velocity := cache.NewVelocityStore(redisClient, 2*policy.Velocity.Window)
	recent := cache.NewRecentEvents(redisClient, cfg.RecentEventTTL)

	// Connect to NATS
	var chargebacks interfaces.ChargebackLookup
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		chargebacks = messaging.NewChargebackClient(nc, cfg.LookupTimeout)
	}

	// Kafka publishers
	var publisher interfaces.StatePublisher
	if len(cfg.KafkaBrokers) > 0 {
		statePublisher := messaging.NewStatePublisher(messaging.NewWriter(cfg.KafkaBrokers, cfg.StateEventsTopic))
		defer statePublisher.Close()
		publisher = statePublisher
	}

	sink, closeSink := notificationSink(cfg)
	defer closeSink()

	notifier := service.NewNotifier(store, sink, cfg.NotifyWorkers, cfg.NotifyBuffer)
	machine := service.NewOrderMachine(store, notifier, publisher)
	engine := risk.NewEngine(policy, risk.Options{
		Velocity:      velocity,
		History:       store,
		Chargebacks:   chargebacks,
		Deadline:      cfg.CheckoutDeadline,
		LookupTimeout: cfg.LookupTimeout,
	})
	checkout := service.NewCheckout(engine, machine, store)
	reconciler := service.NewReconciler(machine, store, store, recent)

	// Start consuming provider events
	if len(cfg.KafkaBrokers) > 0 {
		consumer := messaging.NewPaymentEventConsumer(cfg.KafkaBrokers, cfg.PaymentEventsTopic, cfg.ConsumerGroup, reconciler)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				telemetry.Logger.Error("Payment event consumer stopped", zap.Error(err))
			}
		}()
	}
	go runSweeper(ctx, reconciler, cfg.SweepInterval, cfg.SweepMaxAge)

	r := api.NewRouter(api.Services{
		Checkout:   checkout,
		Machine:    machine,
		FraudLog:   service.NewFraudLog(store),
		Reconciler: reconciler,
	}, api.Options{
		CheckoutRate:  rate.Limit(cfg.CheckoutRateLimit),
		CheckoutBurst: cfg.CheckoutRateBurst,
		SweepMaxAge:   cfg.SweepMaxAge,
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Order Lifecycle starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// gRPC health for the orchestrator's probes
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		telemetry.Logger.Fatal("Failed to listen for gRPC", zap.Error(err))
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			telemetry.Logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()
	grpcServer.GracefulStop()
	notifier.Close()

	telemetry.Logger.Info("Server exited")
}

func notificationSink(cfg *config.Config) (interfaces.NotificationSink, func()) {
	switch cfg.NotificationSink {
	case "kafka":
		sink := messaging.NewKafkaNotificationSink(messaging.NewWriter(cfg.KafkaBrokers, cfg.NotificationsTopic))
		return sink, func() { _ = sink.Close() }
	case "rabbit":
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		ch, err := conn.Channel()
		if err != nil {
			telemetry.Logger.Fatal("Failed to open RabbitMQ channel", zap.Error(err))
		}
		sink, err := messaging.NewRabbitNotificationSink(ch, cfg.NotificationsTopic)
		if err != nil {
			telemetry.Logger.Fatal("Failed to set up notification exchange", zap.Error(err))
		}
		return sink, func() {
			_ = ch.Close()
			_ = conn.Close()
		}
	default:
		return messaging.LogSink{}, func() {}
	}
}

func runSweeper(ctx context.Context, reconciler *service.Reconciler, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := reconciler.Sweep(ctx, maxAge); err != nil {
				telemetry.Logger.Warn("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}
