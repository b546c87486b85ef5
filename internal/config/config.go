package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr            string
	DatabaseURL     string
	ScorerURL       string
	ScorerTimeout   time.Duration
	ScorerSeed      int64
	KafkaBrokers    []string
	KafkaTopic      string
	S3Bucket        string
	S3Prefix        string
	PolicyPath      string
	SchemaPath      string
	JWTSecret       string
	AllowDebugToken bool
	DebugToken      string
	RunWorker       bool
	PollInterval    time.Duration
}

const (
	defaultAddr          = ":8071"
	defaultScorerTimeout = 20 * time.Second
	defaultKafkaTopic    = "nbo.stage.events"
	defaultPollInterval  = 2 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("NBO_ADDR", defaultAddr),
		DatabaseURL:     firstNonEmpty(os.Getenv("NBO_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		ScorerURL:       os.Getenv("NBO_SCORER_URL"),
		ScorerTimeout:   getDuration("NBO_SCORER_TIMEOUT", defaultScorerTimeout),
		ScorerSeed:      getInt64("NBO_SCORER_SEED", 1),
		KafkaBrokers:    getList("NBO_KAFKA_BROKERS"),
		KafkaTopic:      getEnv("NBO_KAFKA_TOPIC", defaultKafkaTopic),
		S3Bucket:        os.Getenv("NBO_S3_BUCKET"),
		S3Prefix:        getEnv("NBO_S3_PREFIX", "nbo"),
		PolicyPath:      os.Getenv("NBO_POLICY_PATH"),
		SchemaPath:      os.Getenv("NBO_SCHEMA_PATH"),
		JWTSecret:       os.Getenv("NBO_JWT_SECRET"),
		AllowDebugToken: getBool("NBO_ALLOW_DEBUG_TOKEN", false),
		DebugToken:      os.Getenv("NBO_DEBUG_TOKEN"),
		RunWorker:       getBool("NBO_RUN_WORKER", true),
		PollInterval:    getDuration("NBO_POLL_INTERVAL", defaultPollInterval),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or NBO_DATABASE_URL required")
	}
	if !cfg.AllowDebugToken && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("NBO_JWT_SECRET required when NBO_ALLOW_DEBUG_TOKEN unset")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
