package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"questboard/internal/config"
	"questboard/internal/handlers"
	"questboard/internal/middleware"
	"questboard/internal/models"
	"questboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the questboard server",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	var (
		db  *gorm.DB
		err error
	)
	if cfg.Database.Driver == "postgres" {
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
		)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{})
	}
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.TeamMember{}, &models.Ticket{}, &models.Sprint{},
		&models.ActivityRecord{}, &models.SlackMessage{}, &models.Integration{},
		&models.AutomationConfig{}, &models.AutomationRun{}, &models.AutomationAction{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	hub := services.NewDashboardHub()
	go hub.Run()

	automationService := services.NewAutomationService(db, appLogger)
	automationService.SetNotifier(hub)
	automationService.SetRunTimeout(cfg.Automation.RunTimeout)
	if _, err := automationService.RecoverOrphanedRuns(context.Background(), cfg.Automation.OrphanStaleness); err != nil {
		appLogger.Warnf("recover orphaned runs: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go automationService.StartScheduler(ctx, cfg.Automation.SchedulerTick)
	defer cancel()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	healthHandler := handlers.NewHealthHandler(cfg, db, hub)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/ws", handlers.NewWebSocketHandler(hub, appLogger).Connect)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterTicketRoutes(api, handlers.NewTicketHandler(services.NewTicketService(db, appLogger), appLogger))
	handlers.RegisterTeamRoutes(api, handlers.NewTeamHandler(services.NewTeamService(db, appLogger), appLogger))
	handlers.RegisterIntegrationRoutes(api, handlers.NewIntegrationHandler(services.NewIntegrationService(db, appLogger), appLogger))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService, appLogger))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}
