package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	httpapi "github.com/truckdesk/screenshare/internal/api/http"
	"github.com/truckdesk/screenshare/internal/config"
	"github.com/truckdesk/screenshare/internal/repository"
	"github.com/truckdesk/screenshare/internal/repository/model"
	"github.com/truckdesk/screenshare/internal/service"
	"github.com/truckdesk/screenshare/lib/logger/sl"
	"github.com/truckdesk/screenshare/lib/logger/slogpretty"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	feed := repository.NewFeed()

	var sessions repository.SessionRepository
	if cfg.Database.DSN == "" && cfg.Env == envLocal {
		log.Warn("no database dsn, using in-memory session store")
		sessions = repository.NewInMemorySessionRepository(feed)
	} else {
		db, err := connectDatabase(cfg.Database)
		if err != nil {
			log.Error("failed to connect database", sl.Err(err))
			os.Exit(1)
		}
		sessions = repository.NewPostgresSessionRepository(db, feed)
	}

	directory := service.NewDirectoryService(sessions, feed, log)
	sessionController := httpapi.NewSessionController(directory, feed)
	router := httpapi.SetupRouter(sessionController)

	log.Info("starting application", slog.String("addr", cfg.HTTP.Address))
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", sl.Err(err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.Session{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
