// Package config loads server settings from GPUCTL_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string     // GPUCTL_DATABASE_URL (required; postgres:// or sqlite://)
	GRPCAddr    string     // GPUCTL_GRPC_ADDR (default ":9090")
	HTTPAddr    string     // GPUCTL_HTTP_ADDR (default ":8080")
	NATSURL     string     // GPUCTL_NATS_URL (optional, empty = no mirror)
	AuthToken   string     // GPUCTL_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    slog.Level // GPUCTL_LOG_LEVEL (default "info")

	WatchHeartbeat  time.Duration // GPUCTL_WATCH_HEARTBEAT (default 15s)
	WorkerDeadAfter time.Duration // GPUCTL_WORKER_DEAD_AFTER (default 2m; 0 = reaper disabled)

	// Sync settings
	SyncInterval   time.Duration // GPUCTL_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // GPUCTL_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // GPUCTL_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // GPUCTL_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // GPUCTL_SYNC_S3_KEY (default "gpuctl/backup.jsonl")
	SyncGitRepo    string        // GPUCTL_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // GPUCTL_SYNC_GIT_FILE (default "gpuctl.jsonl")
	SyncGitBranch  string        // GPUCTL_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:    os.Getenv("GPUCTL_DATABASE_URL"),
		GRPCAddr:       envOrDefault("GPUCTL_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("GPUCTL_HTTP_ADDR", ":8080"),
		NATSURL:        os.Getenv("GPUCTL_NATS_URL"),
		AuthToken:      os.Getenv("GPUCTL_AUTH_TOKEN"),
		SyncS3Bucket:   os.Getenv("GPUCTL_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("GPUCTL_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("GPUCTL_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("GPUCTL_SYNC_S3_KEY", "gpuctl/backup.jsonl"),
		SyncGitRepo:    os.Getenv("GPUCTL_SYNC_GIT_REPO"),
		SyncGitFile:    envOrDefault("GPUCTL_SYNC_GIT_FILE", "gpuctl.jsonl"),
		SyncGitBranch:  envOrDefault("GPUCTL_SYNC_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("GPUCTL_DATABASE_URL is required")
	}

	level, err := ParseLogLevel(envOrDefault("GPUCTL_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("GPUCTL_LOG_LEVEL: %w", err)
	}
	c.LogLevel = level

	for _, d := range []struct {
		key, fallback string
		dst           *time.Duration
	}{
		{"GPUCTL_WATCH_HEARTBEAT", "15s", &c.WatchHeartbeat},
		{"GPUCTL_WORKER_DEAD_AFTER", "2m", &c.WorkerDeadAfter},
		{"GPUCTL_SYNC_INTERVAL", "3m", &c.SyncInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}
	if c.WatchHeartbeat == 0 {
		return nil, fmt.Errorf("GPUCTL_WATCH_HEARTBEAT: must be positive")
	}

	return c, nil
}

// ParseLogLevel accepts debug, info, warn or error (case-insensitive).
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
