package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds global settings for the Sentinelle gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenAddr string // Gateway HTTP address (default: ":8080")
	OpsAddr    string // Ops server address for /metrics and /ws (default: ":9090")
	LogLevel   string // logrus level: debug, info, warn, error (default: "info")

	// === Detection ===
	DetectionFile     string        // Optional YAML file overriding keyword table and weights
	AlertCapacity     int           // Bounded alert history size (default: 100)
	AutoBlockDuration time.Duration // Auto-unblock delay for automatic blocks; 0 = indefinite
	AnalysisCacheSize int           // LRU cache entries for fusion results (default: 256)

	// === Fusion weights (0 keeps the built-in default) ===
	WeightVulnerability float64
	WeightNetwork       float64
	WeightIntent        float64

	// === ML Classifiers ===
	// Paths point at ONNX model directories; empty paths leave a source on
	// the keyword fallback.
	VulnerabilityModelPath string
	VulnerabilityModelName string // HuggingFace name for download when path is missing
	IntentModelPath        string
	IntentModelName        string
	OnnxLibraryPath        string // libonnxruntime location; empty = pure Go backend

	// === Semantic intent fallback ===
	EnableSemantics bool   // Use embedding similarity for intent when no ONNX model
	OllamaURL       string // Embedding backend (default: "http://localhost:11434")
	EmbeddingModel  string // Ollama embedding model (default: "embeddinggemma")

	// === Durable mirrors (both optional) ===
	RedisAddr     string // Empty disables the Redis mirror
	RedisPassword string
	RedisDB       int
	PostgresDSN   string // Empty disables the Postgres alert archive
	MirrorWorkers int    // Concurrency cap for async mirror writes (default: 16)

	// === Chat ===
	MaxMessageLen int // Messages are truncated to this many runes before screening (default: 4000)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr: GetEnv("SENTINELLE_LISTEN_ADDR", ":8080"),
		OpsAddr:    GetEnv("SENTINELLE_OPS_ADDR", ":9090"),
		LogLevel:   GetEnv("SENTINELLE_LOG_LEVEL", "info"),

		DetectionFile:     GetEnv("SENTINELLE_DETECTION_FILE", ""),
		AlertCapacity:     clampInt(GetEnvInt("SENTINELLE_ALERT_CAPACITY", 100), 1, 10000),
		AutoBlockDuration: time.Duration(GetEnvInt("SENTINELLE_AUTO_BLOCK_SECONDS", 0)) * time.Second,
		AnalysisCacheSize: clampInt(GetEnvInt("SENTINELLE_CACHE_SIZE", 256), 1, 65536),

		WeightVulnerability: GetEnvFloat("SENTINELLE_WEIGHT_VULNERABILITY", 0),
		WeightNetwork:       GetEnvFloat("SENTINELLE_WEIGHT_NETWORK", 0),
		WeightIntent:        GetEnvFloat("SENTINELLE_WEIGHT_INTENT", 0),

		VulnerabilityModelPath: GetEnv("SENTINELLE_VULN_MODEL_PATH", ""),
		VulnerabilityModelName: GetEnv("SENTINELLE_VULN_MODEL_NAME", ""),
		IntentModelPath:        GetEnv("SENTINELLE_INTENT_MODEL_PATH", ""),
		IntentModelName:        GetEnv("SENTINELLE_INTENT_MODEL_NAME", ""),
		OnnxLibraryPath:        GetEnv("SENTINELLE_ONNX_LIB_PATH", ""),

		EnableSemantics: GetEnvBool("SENTINELLE_ENABLE_SEMANTICS", false),
		OllamaURL:       GetEnv("SENTINELLE_OLLAMA_URL", "http://localhost:11434"),
		EmbeddingModel:  GetEnv("SENTINELLE_EMBEDDING_MODEL", "embeddinggemma"),

		RedisAddr:     GetEnv("SENTINELLE_REDIS_ADDR", ""),
		RedisPassword: GetEnv("SENTINELLE_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("SENTINELLE_REDIS_DB", 0),
		PostgresDSN:   GetEnv("SENTINELLE_POSTGRES_DSN", ""),
		MirrorWorkers: clampInt(GetEnvInt("SENTINELLE_MIRROR_WORKERS", 16), 1, 256),

		MaxMessageLen: clampInt(GetEnvInt("SENTINELLE_MAX_MESSAGE_LEN", 4000), 1, 1<<20),
	}
}

// NewHighSecurityConfig blocks indefinitely and keeps a larger alert
// history. May produce more false positives.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.AutoBlockDuration = 0
	cfg.AlertCapacity = 500
	cfg.WeightNetwork = 2.5
	return cfg
}

// NewHighUsabilityConfig auto-unblocks quickly so a single detection does
// not strand the whole platform.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.AutoBlockDuration = 5 * time.Minute
	return cfg
}

// Validate checks invariants that would otherwise surface as runtime
// surprises.
func (c *Config) Validate() error {
	var problems []string
	if c.AlertCapacity <= 0 {
		problems = append(problems, "alert capacity must be positive")
	}
	if c.AutoBlockDuration < 0 {
		problems = append(problems, "auto block duration cannot be negative")
	}
	if c.DetectionFile != "" {
		if _, err := os.Stat(c.DetectionFile); err != nil {
			problems = append(problems, fmt.Sprintf("detection file %q: %v", c.DetectionFile, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// Exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
