package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/config"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/database/minio"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/database/postgres"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/database/redis"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/email"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/event"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/handlers"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/metrics"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/services"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/worker"
)

func setupLogging() (*os.File, error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
		}
	}()

	logDir := filepath.Join("/myvestio", "log", "marketplace_service")
	err := os.MkdirAll(logDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	cfg := config.New()

	// Postgres
	log.Printf("Connecting to PostgreSQL with: host=%s, port=%s, user=%s, dbname=%s",
		cfg.PostgresCfg.Host, cfg.PostgresCfg.Port, cfg.PostgresCfg.Username, cfg.PostgresCfg.DBname)
	db, err := postgres.ConnectAndCreateDB(cfg.PostgresCfg)
	if err != nil {
		log.Printf("error connect to database: %s", err)
		go postgres.RetryConnectOnFailed(30*time.Second, &db, cfg.PostgresCfg)
	}

	// Redis
	redisClient, err := redis.NewRedisClient(cfg.RedisCfg.Host, cfg.RedisCfg.Port, cfg.RedisCfg.Password, cfg.RedisCfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	cacheClient := cache.NewRedisCache(redisClient.GetClient())

	// MinIO
	minioClient, err := minio.NewMinioClient(cfg.MinioCfg)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}
	defer minioClient.Close()

	// RabbitMQ
	rabbitConn, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rabbitConn.Close()

	metrics.Init()

	// Repositories
	invoiceRepo := repository.NewInvoiceRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// Services
	invoiceService := services.NewInvoiceService(invoiceRepo, outboxRepo, cacheClient)
	offerService := services.NewOfferService(offerRepo, invoiceRepo, outboxRepo, cacheClient)
	acceptanceService := services.NewAcceptanceService(offerRepo, invoiceRepo, outboxRepo, cacheClient)
	marketplaceService := services.NewMarketplaceService(invoiceRepo, offerRepo, cacheClient)
	documentService := services.NewDocumentService(invoiceRepo, minioClient, cacheClient)
	expirationService := services.NewOfferExpirationService(offerRepo, outboxRepo, cacheClient)

	// Notification pipeline
	publisher := event.NewNotificationPublisher(rabbitConn)
	mailer := email.NewEmailService(cfg.SMTPCfg)
	dispatcher := event.NewOutboxDispatcher(outboxRepo, publisher, mailer)

	// Background workers. Schedulers get their own context so they can be
	// stopped before the pool closes its job queue.
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	var poolWg sync.WaitGroup
	pool := worker.NewWorkingPool(4, 64)
	poolWg.Add(1)
	go pool.Start(poolCtx, &poolWg)

	var schedWg sync.WaitGroup

	sweepScheduler := worker.NewJobScheduler("offer-expiry", time.Minute, pool)
	sweepScheduler.AddJob(func(jobCtx context.Context) error {
		_, err := expirationService.SweepExpiredOffers(jobCtx)
		return err
	})
	schedWg.Add(1)
	go func() {
		defer schedWg.Done()
		sweepScheduler.Run(schedCtx)
	}()

	outboxScheduler := worker.NewJobScheduler("outbox-dispatch", 15*time.Second, pool)
	outboxScheduler.AddJob(func(jobCtx context.Context) error {
		_, err := dispatcher.DispatchPending(jobCtx)
		return err
	})
	schedWg.Add(1)
	go func() {
		defer schedWg.Done()
		outboxScheduler.Run(schedCtx)
	}()

	// Metrics listener
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		addr := ":" + cfg.MetricsPort
		log.Printf("Metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Metrics listener stopped: %v", err)
		}
	}()

	// HTTP
	app := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024,
	})

	handlers.NewInvoiceHandler(invoiceService, documentService, marketplaceService).Register(app)
	handlers.NewOfferHandler(offerService, acceptanceService, marketplaceService).Register(app)
	handlers.NewMarketplaceHandler(marketplaceService).Register(app)
	handlers.NewHealthHandler(expirationService, redisClient, rabbitConn, publisher).Register(app)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()
	log.Printf("Marketplace service listening on :%s", cfg.Port)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received")

	schedCancel()
	schedWg.Wait()
	poolCancel()
	poolWg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Marketplace service stopped")
}
