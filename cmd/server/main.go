package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/prepline/backend/internal/config"
	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/handlers/authapi"
	"github.com/prepline/backend/internal/handlers/health"
	"github.com/prepline/backend/internal/handlers/quizapi"
	"github.com/prepline/backend/internal/models"
	"github.com/prepline/backend/internal/session"
	"github.com/prepline/backend/internal/storage"
	"github.com/prepline/backend/internal/token"
)

var (
	configPath = flag.String("c", os.Getenv("CONFIG_PATH"), "Path to configuration file")
)

func main() {
	flag.Parse()
	if *configPath == "" {
		log.Fatal().Msg("Config path must be provided via CONFIG_PATH env var or -c flag")
	}

	// Load configuration
	cfg := config.LoadConfig(*configPath)

	// cron schedule
	scheduler, _ := gocron.NewScheduler()
	scheduler.Start()

	// Initialize database
	db, err := gormw.Open(&cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	seeds := make([]models.TestCategory, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		seeds = append(seeds, models.TestCategory{
			Name:          c.Name,
			QuestionCount: c.QuestionCount,
		})
	}
	if err := storage.SeedCategories(db, seeds); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed categories")
	}

	storage.RegisterStaleSessionsCleaner(scheduler, db)

	// Auth core: revocation list -> token service -> session controller
	revoked := storage.NewRevocationList()
	tokens := token.NewService(&cfg.Auth, revoked)
	sessions := session.NewService(db, tokens)

	// Set up Gin router
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	if len(cfg.CORSAllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		router.Use(cors.New(corsConfig))
	}

	api := router.Group("/api")
	authapi.NewHandlers(db, sessions).RegisterHandlers(api)
	quizapi.NewHandlers(db, sessions).RegisterHandlers(api)
	health.NewHandlers(db, revoked).RegisterHandlers(api)

	// Start server
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	// Run our server in a goroutine so that it doesn't block.
	go func() {
		log.Printf("start server at %q", srv.Addr)
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	c := make(chan os.Signal, 1)
	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
	signal.Notify(c, os.Interrupt)

	// Block until we receive our signal.
	<-c

	// Create a deadline to wait for.
	wait := time.Second * 15
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait
	// until the timeout deadline.
	srv.Shutdown(ctx)

	log.Info().Msg("shutting down")
	os.Exit(0)
}
