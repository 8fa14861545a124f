package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mail-forward-scheduler/internal/config"
	"mail-forward-scheduler/internal/database"
	"mail-forward-scheduler/internal/gateway"
	"mail-forward-scheduler/internal/handlers"
	"mail-forward-scheduler/internal/intake"
	"mail-forward-scheduler/internal/metrics"
	"mail-forward-scheduler/internal/notifier"
	"mail-forward-scheduler/internal/reconciler"
	"mail-forward-scheduler/internal/scheduler"
	"mail-forward-scheduler/internal/store"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Mail Forward Scheduler Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	scheduleStore := store.NewGormStore(db)

	// Initialize external rule gateway
	ruleGateway, err := gateway.NewGmailGateway(&cfg.Gmail, cfg.Reconciler.GatewayTimeout, cfg.Reconciler.GatewayRPS)
	if err != nil {
		logrus.Fatalf("Failed to create rule gateway: %v", err)
	}

	// Initialize metrics
	m := metrics.NewMetrics()

	// Initialize owner notifications when enabled
	var notify reconciler.Notifier
	if cfg.Gmail.Notifications {
		emailNotifier, err := notifier.NewEmailNotifier(&cfg.Gmail)
		if err != nil {
			logrus.Fatalf("Failed to create notifier: %v", err)
		}
		notify = emailNotifier
		logrus.Info("Owner notifications enabled")
	}

	// Initialize reconciler and intake service
	rec := reconciler.New(scheduleStore, ruleGateway, m, notify)
	intakeService := intake.NewService(scheduleStore, ruleGateway)

	// Initialize scheduler
	sched := scheduler.NewScheduler(&cfg.Reconciler, rec)

	// Initialize HTTP handlers
	h := handlers.NewHandlers(db, scheduleStore, intakeService, sched, cfg.Trigger)

	// Setup HTTP server
	router := setupRouter(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop scheduler
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	// Wait for any in-flight reconciliation to finish
	sched.Wait()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}

// setupRouter sets up the HTTP router with middleware
func setupRouter(h *handlers.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	h.SetupRoutes(router)

	return router
}

// loggerMiddleware adds logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
