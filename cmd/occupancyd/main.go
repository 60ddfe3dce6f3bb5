package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/api"
	"library-occupancy-backend/internal/clock"
	"library-occupancy-backend/internal/db"
	"library-occupancy-backend/internal/engine"
	"library-occupancy-backend/internal/forecast"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/schedule"
	"library-occupancy-backend/internal/store"
	"library-occupancy-backend/internal/sweeper"
)

func main() {
	logger := log.New(os.Stdout, "occupancyd ", log.LstdFlags)

	if err := godotenv.Load(); err != nil {
		logger.Println("no .env file found, relying on the environment")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	clk := clock.New()

	var webpushOptions *webpush.Options
	var pusher *hub.Pusher
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pusher = hub.NewPusher(cfg.WorkerPool.Size, appStore, webpushOptions)
		pusher.Start(ctx)
		logger.Printf("web push enabled, %d delivery workers", cfg.WorkerPool.Size)
	} else {
		logger.Println("VAPID keys not configured, web push disabled")
	}

	eventHub := hub.New(pusher)
	model := forecast.New(forecast.Config{
		Alpha:        cfg.Forecast.Alpha,
		Gamma:        cfg.Forecast.Gamma,
		Delta:        cfg.Forecast.Delta,
		Eta:          cfg.Forecast.Eta,
		SeasonLength: cfg.Forecast.SeasonLength,
		Window:       cfg.Forecast.Window,
	})

	eng := engine.New(cfg, appStore, clk, eventHub, model)

	if err := seedOccupants(ctx, appStore, cfg.Occupants, clk.Now()); err != nil {
		logger.Fatalf("failed to seed occupants: %v", err)
	}

	if err := eng.Bootstrap(ctx); err != nil {
		logger.Fatalf("engine bootstrap failed: %v", err)
	}

	sweep := sweeper.New(eng, cfg.Space.SweepInterval)
	go sweep.Run(ctx)

	scheduler := schedule.New(eng, clk)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("failed to start status scheduler: %v", err)
	}

	router := api.NewRouter(eng, appStore, eventHub, cfg.Server, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

// seedOccupants ensures the configured occupants exist. A seed entry without
// a token gets a generated one, printed once so it can be handed out.
func seedOccupants(ctx context.Context, s store.Store, seeds []config.SeedOccupant, now time.Time) error {
	for _, seed := range seeds {
		token := seed.Token
		if token == "" {
			token = uuid.NewString()
			log.Printf("Generated token for occupant %q: %s", seed.DisplayName, token)
		}
		occ := &model.Occupant{
			Token:                token,
			DisplayName:          seed.DisplayName,
			Privileged:           seed.Privileged,
			Age:                  seed.Age,
			Demographic:          seed.Demographic,
			CooperativenessScore: 0.5,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.EnsureOccupant(ctx, occ); err != nil {
			return err
		}
	}
	return nil
}
