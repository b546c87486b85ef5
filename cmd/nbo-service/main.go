package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/guestlab/nbo/internal/config"
	"github.com/guestlab/nbo/internal/httpserver"
	"github.com/guestlab/nbo/internal/pipeline"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/provenance"
	"github.com/guestlab/nbo/internal/runner"
	"github.com/guestlab/nbo/internal/schema"
	"github.com/guestlab/nbo/internal/scorer"
	"github.com/guestlab/nbo/internal/service"
	"github.com/guestlab/nbo/internal/store"
)

func main() {
	runWorker := flag.Bool("run-worker", false, "start the pipeline worker")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		pol, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			log.Fatalf("policy load: %v", err)
		}
	}
	if err := pol.Validate(); err != nil {
		log.Fatalf("policy validate: %v", err)
	}

	desc := schema.Default()
	if cfg.SchemaPath != "" {
		desc, err = schema.Load(cfg.SchemaPath)
		if err != nil {
			log.Fatalf("schema load: %v", err)
		}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	st := store.NewPGStore(db)

	var scorerClient scorer.Client = scorer.NewStaticClient(cfg.ScorerSeed)
	if cfg.ScorerURL != "" {
		httpClient, err := scorer.NewHTTPClient(scorer.HTTPClientConfig{
			BaseURL: cfg.ScorerURL,
			Timeout: cfg.ScorerTimeout,
		})
		if err != nil {
			log.Fatalf("scorer client init: %v", err)
		}
		scorerClient = httpClient
	}

	var events provenance.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := provenance.NewKafkaProducer(provenance.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer init: %v", err)
		}
		defer producer.Close()
		events = producer
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archiver provenance.Archiver
	if cfg.S3Bucket != "" {
		s3Archiver, err := provenance.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("s3 archiver init: %v", err)
		}
		archiver = s3Archiver
	}

	pipe, err := pipeline.Default()
	if err != nil {
		log.Fatalf("pipeline init: %v", err)
	}

	svc := service.New(service.Config{
		Store:         st,
		Pipeline:      pipe,
		Scorer:        scorerClient,
		Policy:        pol,
		Schema:        desc,
		Events:        events,
		Archiver:      archiver,
		ScorerTimeout: cfg.ScorerTimeout,
	})
	server := httpserver.New(cfg, svc, st)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	if shouldRunWorker(*runWorker, cfg.RunWorker) {
		log.Printf("starting pipeline worker")
		go runner.RunWorker(ctx, svc, st, runner.Config{PollInterval: cfg.PollInterval})
	}

	go func() {
		log.Printf("NBO service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func shouldRunWorker(flagValue, cfgValue bool) bool {
	if flagValue {
		return true
	}
	if v := os.Getenv("NBO_RUNNER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return cfgValue
}
