package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/proposal-pulse/internal/api"
	"github.com/ignite/proposal-pulse/internal/assets"
	"github.com/ignite/proposal-pulse/internal/auth"
	"github.com/ignite/proposal-pulse/internal/config"
	"github.com/ignite/proposal-pulse/internal/engagement"
	"github.com/ignite/proposal-pulse/internal/notify"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Proposal Pulse API server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database at %s: %v", extractHost(cfg.Database.URL), err)
	}
	pingCancel()
	log.Printf("Connected to database at %s", extractHost(cfg.Database.URL))

	ctx := context.Background()
	store := engagement.NewStore(db)

	// Owner notifications over SES. Disabled config falls back to a no-op
	// dispatcher so tracking still records everything.
	var notifier engagement.Notifier = notify.NopNotifier{}
	if cfg.SES.Enabled && cfg.SES.FromEmail != "" {
		sesNotifier, err := notify.NewSESNotifier(ctx, cfg.SES)
		if err != nil {
			log.Printf("SES notifier disabled: %v", err)
		} else {
			notifier = sesNotifier
			log.Printf("SES notifications enabled (from %s)", cfg.SES.FromEmail)
		}
	}

	// Signature archival to S3.
	var images engagement.ImageStore
	if cfg.Storage.Enabled && cfg.Storage.S3Bucket != "" {
		s3Store, err := assets.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			log.Printf("S3 signature archival disabled: %v", err)
		} else {
			images = s3Store
			log.Printf("Signature archival enabled (bucket %s)", cfg.Storage.S3Bucket)
		}
	}

	svc := engagement.NewService(store, notifier, images, cfg.Tracking.HighEngagementSeconds)
	agg := engagement.NewAggregator(store, engagement.ScoreConfig{
		ViewWeight:        cfg.Tracking.ViewWeight,
		SectionWeight:     cfg.Tracking.SectionWeight,
		InteractionWeight: cfg.Tracking.InteractionWeight,
		ConversionWeight:  cfg.Tracking.ConversionWeight,
		SessionTarget:     5,
		TrackableSections: cfg.Tracking.TrackableSections,
		InteractionTarget: 10,
	})

	// Redis-backed rate limiting for the public tracking surface.
	var limiter *api.RateLimiter
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisCtx, redisCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(redisCtx).Err(); err != nil {
			log.Printf("Rate limiting disabled, Redis unreachable at %s: %v", cfg.Redis.Addr, err)
			redisClient.Close()
		} else {
			limiter = api.NewRateLimiter(redisClient, cfg.Tracking.RateLimitPerMinute)
			defer limiter.Close()
			log.Printf("Rate limiting enabled (%d/min per IP)", cfg.Tracking.RateLimitPerMinute)
		}
		redisCancel()
	}

	// Google OAuth for the owner dashboard.
	var authManager *auth.Manager
	if cfg.Auth.Enabled && cfg.Auth.GoogleClientID != "" {
		authManager = auth.NewManager(&cfg.Auth, cfg.Tracking.BaseURL, []string{"/api/track/"})
		authManager.CleanupExpiredSessions()
		log.Println("Google OAuth enabled")
	} else {
		log.Println("WARNING: auth disabled, owner endpoints are open")
	}

	var origins []string
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}

	server := api.NewServer(cfg.Server, svc, agg, authManager, limiter, origins)

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("%v", err)
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)

	go func() {
		log.Printf("API server listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
