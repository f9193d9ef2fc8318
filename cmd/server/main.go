package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-service/config"
	"payment-service/internal/api"
	"payment-service/internal/broker"
	"payment-service/internal/models"
	"payment-service/internal/processor"
	"payment-service/internal/redisclient"
	"payment-service/internal/service"
	"payment-service/internal/store"
	"payment-service/internal/util"
	"payment-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment service")

	tp, err := util.InitTracer("payment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	paymentProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment)
	defer paymentProducer.Close()
	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlert)
	defer alertProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(paymentProducer, alertProducer)

	adapter := processor.NewMock()

	paymentService := service.NewPaymentService(db, eventPublisher, service.LoggingOrderLedger{}, service.LoggingCashDrawer{}, cfg.Retry)
	intentService := service.NewIntentService(db, redisClient, adapter)
	queueService := service.NewQueueService(db, eventPublisher, cfg.Queue)
	settlementService := service.NewSettlementService(db, eventPublisher, paymentService)

	adapter.OnAuthorized(func(ctx context.Context, intentID, transactionID, authCode string) error {
		return intentService.HandleProcessorAuthorized(ctx, &models.ProcessorWebhookEvent{
			IntentID:      intentID,
			TransactionID: transactionID,
			AuthCode:      authCode,
		})
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	retryWorker := worker.NewRetryWorker(paymentService, queueService, adapter, cfg.Queue)
	retryWorker.Start(workerCtx)

	webhookConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhook, cfg.Kafka.ConsumerGroup)
	webhookWorker := worker.NewWebhookWorker(webhookConsumer, intentService)
	go func() {
		if err := webhookWorker.Start(workerCtx); err != nil {
			log.Printf("Webhook worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(paymentService, intentService, queueService, settlementService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	retryWorker.Stop()
	webhookWorker.Stop()

	log.Println("Server exited")
}
