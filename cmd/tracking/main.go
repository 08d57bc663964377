package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"

	"github.com/ignite/proposal-pulse/internal/engagement"
	"github.com/ignite/proposal-pulse/internal/tracking"
)

// The tracking edge answers pixel and tracked-link hits and buffers them
// through SQS. Run with TRACKING_CONSUMER=true to also drain the queue into
// the engagement store.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	queueURL := os.Getenv("SQS_TRACKING_QUEUE_URL")
	if queueURL == "" {
		log.Fatal("SQS_TRACKING_QUEUE_URL is required")
	}
	viewerBaseURL := os.Getenv("TRACKING_BASE_URL")
	if viewerBaseURL == "" {
		viewerBaseURL = "http://localhost:8080"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	pub := tracking.NewPublisher(sqsClient, queueURL)
	handler := tracking.NewHandler(pub, viewerBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumer *tracking.Consumer
	if os.Getenv("TRACKING_CONSUMER") == "true" {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			log.Fatal("DATABASE_URL is required when TRACKING_CONSUMER=true")
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer db.Close()

		svc := engagement.NewService(engagement.NewStore(db), nil, nil, 0)
		consumer = tracking.NewConsumer(sqsClient, queueURL, svc)
		consumer.Start(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	if consumer != nil {
		consumer.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
