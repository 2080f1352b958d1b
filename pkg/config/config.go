// Package config provides process-wide settings for the blogcast core.
// All values are read from the environment with built-in defaults; the
// entrypoint loads a .env file first (godotenv) so deployments can keep
// settings in one place.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config aggregates the per-concern configuration blocks.
type Config struct {
	HTTP      *HTTPConfig
	Store     *StoreConfig
	Probe     *ProbeConfig
	Admission *AdmissionConfig
	Queue     *QueueConfig
	Retention *RetentionConfig
	Pipeline  *PipelineConfig

	// DataRoot is the directory under which jobs/<id>/ artifact
	// directories live.
	DataRoot string
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	// Port the HTTP server listens on.
	Port string
	// ServerEnabled toggles the HTTP API role for this process.
	ServerEnabled bool
}

// StoreConfig holds the record-store connection settings.
type StoreConfig struct {
	// URL is the HTTP base URL of the external record store.
	URL string
	// AdminEmail and AdminPassword drive the admin-token auth lifecycle.
	AdminEmail    string
	AdminPassword string
	// RequestTimeout bounds every record-store round-trip.
	RequestTimeout time.Duration
}

// ProbeConfig holds the content-quality probe settings.
type ProbeConfig struct {
	// Endpoint is the summary service base URL.
	Endpoint string
	// APIKey is the credential the summary service requires (may be empty;
	// the probe then rejects every URL with a configuration reason).
	APIKey string
	// MinChars is the minimum trimmed summary length for admission.
	MinChars int
	// Timeout is the hard deadline for one probe call.
	Timeout time.Duration
}

// AdmissionConfig holds the submission caps.
type AdmissionConfig struct {
	// MaxQueueSize caps records in "pending" status.
	MaxQueueSize int
	// RateLimitPerDay caps submissions per source address per 24 h.
	RateLimitPerDay int
	// ExpiryWindow is expires_at - created for new records.
	ExpiryWindow time.Duration
}

// QueueConfig contains worker pool configuration.
type QueueConfig struct {
	// WorkerEnabled toggles the worker role for this process.
	WorkerEnabled bool
	// MaxConcurrentJobs is the per-process pipeline parallelism.
	MaxConcurrentJobs int
	// PollInterval is the cadence of the pending-job poll loop.
	PollInterval time.Duration
	// GracefulShutdownTimeout is the max wait for in-flight pipelines
	// during shutdown.
	GracefulShutdownTimeout time.Duration
}

// RetentionConfig controls the expiry reaper.
type RetentionConfig struct {
	// ReapInterval is how often the reaper scans for expired records.
	ReapInterval time.Duration
}

// PipelineConfig carries the settings handed through to the four stages.
type PipelineConfig struct {
	// PrimaryLang selects which output_<lang>.mp4 becomes video_path.
	PrimaryLang string
	// ScriptCommand, AudioCommand, SlidesCommand and VideoCommand are the
	// external stage binaries. An empty command fails its stage at
	// invocation time.
	ScriptCommand string
	AudioCommand  string
	SlidesCommand string
	VideoCommand  string
	// SlidesAPIKey is passed to the slide image generator.
	SlidesAPIKey string
}

// Load reads the full configuration from the environment.
// Required settings (record store URL and credentials) produce an error
// when absent; everything else falls back to the documented defaults.
func Load() (*Config, error) {
	storeURL := os.Getenv("RECORD_STORE_URL")
	if storeURL == "" {
		return nil, fmt.Errorf("RECORD_STORE_URL is required")
	}
	adminEmail := os.Getenv("RECORD_STORE_ADMIN_EMAIL")
	if adminEmail == "" {
		return nil, fmt.Errorf("RECORD_STORE_ADMIN_EMAIL is required")
	}
	adminPassword := os.Getenv("RECORD_STORE_ADMIN_PASSWORD")
	if adminPassword == "" {
		return nil, fmt.Errorf("RECORD_STORE_ADMIN_PASSWORD is required")
	}

	cfg := &Config{
		HTTP: &HTTPConfig{
			Port:          getEnv("HTTP_PORT", "8080"),
			ServerEnabled: getBool("SERVER_ENABLED", true),
		},
		Store: &StoreConfig{
			URL:            storeURL,
			AdminEmail:     adminEmail,
			AdminPassword:  adminPassword,
			RequestTimeout: getDuration("RECORD_STORE_TIMEOUT_SECONDS", 30*time.Second),
		},
		Probe: &ProbeConfig{
			Endpoint: os.Getenv("QUALITY_PROBE_ENDPOINT"),
			APIKey:   os.Getenv("QUALITY_PROBE_API_KEY"),
			MinChars: getInt("QUALITY_PROBE_MIN_CHARS", 200),
			Timeout:  getDuration("QUALITY_PROBE_TIMEOUT_SECONDS", 30*time.Second),
		},
		Admission: &AdmissionConfig{
			MaxQueueSize:    getInt("MAX_QUEUE_SIZE", 10),
			RateLimitPerDay: getInt("RATE_LIMIT_PER_DAY", 5),
			ExpiryWindow:    time.Duration(getInt("JOB_EXPIRY_HOURS", 24)) * time.Hour,
		},
		Queue: &QueueConfig{
			WorkerEnabled:           getBool("WORKER_ENABLED", true),
			MaxConcurrentJobs:       getInt("MAX_CONCURRENT_JOBS", 2),
			PollInterval:            getDuration("POLL_INTERVAL_SECONDS", 5*time.Second),
			GracefulShutdownTimeout: getDuration("GRACEFUL_SHUTDOWN_TIMEOUT_SECONDS", 30*time.Second),
		},
		Retention: &RetentionConfig{
			ReapInterval: getDuration("EXPIRY_REAP_INTERVAL_SECONDS", time.Hour),
		},
		Pipeline: &PipelineConfig{
			PrimaryLang:   getEnv("PRIMARY_LANG", "ja"),
			ScriptCommand: os.Getenv("SCRIPT_COMMAND"),
			AudioCommand:  os.Getenv("AUDIO_COMMAND"),
			SlidesCommand: os.Getenv("SLIDES_COMMAND"),
			VideoCommand:  os.Getenv("VIDEO_COMMAND"),
			SlidesAPIKey:  os.Getenv("SLIDES_API_KEY"),
		},
		DataRoot: getEnv("DATA_ROOT", "/app/data"),
	}

	if cfg.Queue.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return b
}

// getDuration reads a whole-seconds environment value.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultValue
	}
	return time.Duration(n) * time.Second
}
