// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig
	Remote RemoteConfig
	Sync   SyncConfig
	Store  StoreConfig
}

type ServerConfig struct {
	Port string
}

type RemoteConfig struct {
	BaseURL       string
	SubmitTimeout time.Duration
}

type SyncConfig struct {
	RetryCeiling   int
	SweepInterval  time.Duration
	StabilizeDelay time.Duration
	ProbeInterval  time.Duration
	SlowThreshold  time.Duration
}

type StoreConfig struct {
	DataDir string
}

// Load reads configuration from the environment. Every sync policy knob is
// explicit here rather than a literal buried in the sync code.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8081"),
		},
		Remote: RemoteConfig{
			BaseURL:       getEnv("REMOTE_BASE_URL", "http://localhost:8080"),
			SubmitTimeout: getEnvDuration("REMOTE_SUBMIT_TIMEOUT", 10*time.Second),
		},
		Sync: SyncConfig{
			RetryCeiling:   getEnvInt("SYNC_RETRY_CEILING", 5),
			SweepInterval:  getEnvDuration("SYNC_SWEEP_INTERVAL", 5*time.Minute),
			StabilizeDelay: getEnvDuration("SYNC_STABILIZE_DELAY", time.Second),
			ProbeInterval:  getEnvDuration("NET_PROBE_INTERVAL", 30*time.Second),
			SlowThreshold:  getEnvDuration("NET_SLOW_THRESHOLD", 3*time.Second),
		},
		Store: StoreConfig{
			DataDir: getEnv("STORE_DATA_DIR", "data"),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
