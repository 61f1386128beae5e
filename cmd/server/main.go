package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"classengage-backend/internal/broadcast"
	"classengage-backend/internal/config"
	"classengage-backend/internal/database"
	"classengage-backend/internal/handlers"
	"classengage-backend/internal/middleware"
	"classengage-backend/internal/services"
	"classengage-backend/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// questionCacheTTL: question rows never change while a session references them.
const questionCacheTTL = 10 * time.Minute

func main() {
	cfg := config.Load()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var grades services.GradeSyncer = services.LogGradeSyncer{}
	if cfg.GradeSyncWebhook != "" {
		grades = services.NewWebhookGradeSyncer(cfg.GradeSyncWebhook, cfg.GradeSyncTimeout)
		log.Printf("grade sync: posting to %s", cfg.GradeSyncWebhook)
	} else {
		log.Println("GRADE_SYNC_WEBHOOK not set, grade tallies are only logged")
	}
	if cfg.ClickerKeyHash == "" {
		log.Println("CLICKER_HUB_KEY_HASH not set, clicker bridge will reject every request")
	}

	hub := broadcast.NewHub()

	authService := services.NewAuthService(cfg.JWTSecret, cfg.ClickerKeyHash)
	questionCache := services.NewQuestionCache(db, questionCacheTTL)
	registry := services.NewConnectionRegistry(db, cfg.StaleThreshold, cfg.StatusCacheTTL, time.Now)
	statsService := services.NewStatsService(db, questionCache, registry, services.NewScoringService(), cfg.QuestionStatsTTL, cfg.SummaryTTL)
	sessionService := services.NewSessionService(db, questionCache, registry, statsService, grades, hub, time.Now)
	clickerService := services.NewClickerService(db)
	responseService := services.NewResponseService(db, questionCache, statsService, registry, clickerService, time.Now)
	activityService := services.NewActivityService(db, questionCache)

	builder := broadcast.NewBuilder(sessionService, statsService, registry, time.Now)
	streamer := broadcast.NewStreamer(builder, hub, registry, broadcast.StreamConfig{
		Tick:       cfg.StreamTick,
		Keepalive:  cfg.KeepaliveInterval,
		MaxRuntime: cfg.StreamMaxRuntime,
	}, time.Now)
	poller := broadcast.NewPoller(builder, registry, time.Now)

	sweeper := worker.NewSweeper(registry, cfg.SweepInterval, cfg.StaleThreshold, statsService, questionCache, registry)
	sweeper.Start()
	defer sweeper.Stop()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(cfg.CORSOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.ClickerKeyHeader},
		AllowCredentials: cfg.CORSOrigins != "*",
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, handlers.Handlers{
		Sessions:   handlers.NewSessionHandler(sessionService, statsService, registry, responseService),
		Students:   handlers.NewStudentHandler(sessionService, responseService, registry, poller),
		Clicker:    handlers.NewClickerHandler(responseService, clickerService),
		Activities: handlers.NewActivityHandler(activityService, cfg.DefaultTimeLimit),
		Stream:     handlers.NewStreamHandler(streamer, registry),
	}, authService)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("server starting on :%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
