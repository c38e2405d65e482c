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

	"github.com/Dan9191/installment-service/internal/config"
	"github.com/Dan9191/installment-service/internal/contract"
	"github.com/Dan9191/installment-service/internal/events"
	"github.com/Dan9191/installment-service/internal/handler"
	"github.com/Dan9191/installment-service/internal/repository"
	"github.com/Dan9191/installment-service/internal/scheduler"
	"github.com/Dan9191/installment-service/internal/service"
	"github.com/Dan9191/installment-service/internal/storage"
	"github.com/Dan9191/installment-service/internal/utils"
	"github.com/Dan9191/installment-service/internal/utils/email"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("Failed to load time zone: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := repository.Open(ctx, cfg.DBDriver, cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	cipher, err := utils.NewFieldCipher(cfg.EncryptionKey, cfg.HMACSecret)
	if err != nil {
		logger.Fatalf("Failed to initialize field encryption: %v", err)
	}
	repo := repository.NewRepository(db, cfg.DBDriver, cipher)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	uploads, err := storage.NewLocal(cfg.UploadDir, cfg.UploadURLPath, cfg.MaxUploadMB<<20)
	if err != nil {
		logger.Fatalf("Failed to initialize uploads: %v", err)
	}

	// Initialize layers
	bus := events.NewBus()
	svc := service.NewService(repo, logger, cfg, bus, service.WithFingerprinter(cipher))
	contracts := contract.NewGenerator(contract.Company{
		Name:    cfg.CompanyName,
		Address: cfg.CompanyAddress,
		City:    cfg.CompanyCity,
	}, loc)
	h := handler.NewHandler(svc, contracts, uploads, bus, logger, cfg.CORSOrigins)

	var digest *scheduler.Scheduler
	if cfg.MailEnabled() {
		digest, err = scheduler.New(cfg.DigestCron, loc, svc, email.NewSender(cfg, logger), logger)
		if err != nil {
			logger.Fatalf("Failed to schedule debtor digest: %v", err)
		}
		digest.Start()
	} else {
		logger.Info("SMTP is not configured, debtor digest disabled")
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	if digest != nil {
		digest.Stop()
	}
	// Closing the bus ends open event streams so Shutdown does not wait on them.
	bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}
