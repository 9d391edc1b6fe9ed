package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration of the ingest services
type Config struct {
	Log       LogConfig
	Server    ServerConfig
	SCP       SCPConfig
	Storage   StorageConfig
	Transfer  TransferConfig
	Redis     RedisConfig
	Bus       BusConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Metrics   MetricsConfig
	CORS      CORSConfig
	Pipelines PipelinesConfig
}

// LogConfig configures the process logger
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ServerConfig configures the ops HTTP server (health, metrics)
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SCPConfig configures the DICOM association acceptor
type SCPConfig struct {
	AETitle               string
	Host                  string
	Port                  int
	StrictCalledAE        bool
	MaxPDULength          int
	MaxInstanceSize       int64
	IdleTimeout           time.Duration
	WriteTimeout          time.Duration
	UncompressedOnly      bool
	ExtraAbstractSyntaxes []string
	DefaultTenant         string
	MaxConcurrentWrites   int
}

// StorageConfig holds the filesystem roots
type StorageConfig struct {
	DicomRoot string
	JSONRoot  string
}

// TransferConfig lists the natively supported transfer syntaxes and the
// syntax unsupported instances are transcoded to.
type TransferConfig struct {
	Supported []string
	Fallback  string
}

// RedisConfig holds the Redis connection used by the bus and the cache
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BusConfig configures Redis Streams topics and consumers
type BusConfig struct {
	Topics         TopicsConfig
	ConsumerName   string
	StreamMaxLen   int64
	ReadCount      int64
	BlockTimeout   time.Duration
	PublishTimeout time.Duration
}

// TopicsConfig names the bus topics
type TopicsConfig struct {
	Main                 string
	ChangeTransferSyntax string
	State                string
	Image                string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// CacheConfig configures the tenant lookup cache
type CacheConfig struct {
	Enabled   bool
	Type      string
	TenantTTL time.Duration
	// UnboundTTL is how long an AE title with no binding is remembered
	UnboundTTL time.Duration
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool
}

// CORSConfig configures CORS on the ops server
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// BatchConfig tunes one accumulator
type BatchConfig struct {
	SizeThreshold int
	StaleAfter    time.Duration
	PollInterval  time.Duration
	Backoff       time.Duration
	QueueSize     int
	Order         string
}

// PipelinesConfig holds one BatchConfig per service
type PipelinesConfig struct {
	SCP       BatchConfig
	Storage   BatchConfig
	Transcode BatchConfig
	Project   BatchConfig
	State     BatchConfig
	Image     BatchConfig
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		SCP: SCPConfig{
			AETitle:               getEnv("SCP_AE_TITLE", "RIS_INGEST"),
			Host:                  getEnv("SCP_HOST", "0.0.0.0"),
			Port:                  getEnvInt("SCP_PORT", 11112),
			StrictCalledAE:        getEnvBool("SCP_STRICT_CALLED_AE", false),
			MaxPDULength:          getEnvInt("SCP_MAX_PDU_LENGTH", 16384),
			MaxInstanceSize:       int64(getEnvInt("SCP_MAX_INSTANCE_SIZE", 2<<30)),
			IdleTimeout:           getEnvDuration("SCP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:          getEnvDuration("SCP_WRITE_TIMEOUT", 30*time.Second),
			UncompressedOnly:      getEnvBool("SCP_UNCOMPRESSED_ONLY", false),
			ExtraAbstractSyntaxes: getEnvList("SCP_EXTRA_ABSTRACT_SYNTAXES", nil),
			DefaultTenant:         getEnv("SCP_DEFAULT_TENANT", ""),
			MaxConcurrentWrites:   getEnvInt("SCP_MAX_CONCURRENT_WRITES", 8),
		},
		Storage: StorageConfig{
			DicomRoot: getEnv("STORAGE_DICOM_ROOT", "/var/lib/ris-ingest/dicom"),
			JSONRoot:  getEnv("STORAGE_JSON_ROOT", "/var/lib/ris-ingest/json"),
		},
		Transfer: TransferConfig{
			Supported: getEnvList("TRANSFER_SUPPORTED", []string{
				"1.2.840.10008.1.2",
				"1.2.840.10008.1.2.1",
				"1.2.840.10008.1.2.4.50",
				"1.2.840.10008.1.2.4.70",
				"1.2.840.10008.1.2.4.90",
				"1.2.840.10008.1.2.4.91",
			}),
			Fallback: getEnv("TRANSFER_FALLBACK", "1.2.840.10008.1.2.1"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Bus: BusConfig{
			Topics: TopicsConfig{
				Main:                 getEnv("BUS_TOPIC_MAIN", "topic_main"),
				ChangeTransferSyntax: getEnv("BUS_TOPIC_CHANGE_TRANSFER_SYNTAX", "topic_change_transfer_syntax"),
				State:                getEnv("BUS_TOPIC_STATE", "topic_dicom_state"),
				Image:                getEnv("BUS_TOPIC_IMAGE", "topic_dicom_image"),
			},
			ConsumerName:   getEnv("BUS_CONSUMER_NAME", hostname()),
			StreamMaxLen:   int64(getEnvInt("BUS_STREAM_MAX_LEN", 1_000_000)),
			ReadCount:      int64(getEnvInt("BUS_READ_COUNT", 100)),
			BlockTimeout:   getEnvDuration("BUS_BLOCK_TIMEOUT", 2*time.Second),
			PublishTimeout: getEnvDuration("BUS_PUBLISH_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ris_ingest"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			Type:       getEnv("CACHE_TYPE", "memory"),
			TenantTTL:  getEnvDuration("CACHE_TENANT_TTL", 5*time.Minute),
			UnboundTTL: getEnvDuration("CACHE_UNBOUND_TTL", 30*time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type"}),
		},
		Pipelines: PipelinesConfig{
			SCP:       loadBatch("BATCH_SCP", 20),
			Storage:   loadBatch("BATCH_STORAGE", 50),
			Transcode: loadBatch("BATCH_TRANSCODE", 10),
			Project:   loadBatch("BATCH_PROJECT", 20),
			State:     loadBatch("BATCH_STATE", 50),
			Image:     loadBatch("BATCH_IMAGE", 50),
		},
	}

	return cfg, nil
}

func loadBatch(prefix string, size int) BatchConfig {
	return BatchConfig{
		SizeThreshold: getEnvInt(prefix+"_SIZE", size),
		StaleAfter:    getEnvDuration(prefix+"_STALE_AFTER", 5*time.Second),
		PollInterval:  getEnvDuration(prefix+"_POLL_INTERVAL", time.Second),
		Backoff:       getEnvDuration(prefix+"_BACKOFF", 5*time.Second),
		QueueSize:     getEnvInt(prefix+"_QUEUE_SIZE", 4*size),
		Order:         getEnv(prefix+"_ORDER", "fifo"),
	}
}

// Validate checks the configuration for impossible values
func (c *Config) Validate() error {
	var problems []string

	if c.SCP.AETitle == "" || len(c.SCP.AETitle) > 16 {
		problems = append(problems, "SCP_AE_TITLE must be 1-16 characters")
	}
	if c.SCP.Port <= 0 || c.SCP.Port > 65535 {
		problems = append(problems, "SCP_PORT is out of range")
	}
	if c.SCP.MaxPDULength < 4096 {
		problems = append(problems, "SCP_MAX_PDU_LENGTH must be at least 4096")
	}
	if c.SCP.MaxConcurrentWrites <= 0 {
		problems = append(problems, "SCP_MAX_CONCURRENT_WRITES must be positive")
	}
	if c.Storage.DicomRoot == "" || c.Storage.JSONRoot == "" {
		problems = append(problems, "STORAGE_DICOM_ROOT and STORAGE_JSON_ROOT are required")
	}
	if len(c.Transfer.Supported) == 0 {
		problems = append(problems, "TRANSFER_SUPPORTED must list at least one transfer syntax")
	}
	if c.Transfer.Fallback == "" {
		problems = append(problems, "TRANSFER_FALLBACK is required")
	}
	if c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		problems = append(problems, "CACHE_TYPE must be memory or redis")
	}
	if c.Bus.BlockTimeout <= 0 {
		problems = append(problems, "BUS_BLOCK_TIMEOUT must be positive")
	}
	topics := []string{c.Bus.Topics.Main, c.Bus.Topics.ChangeTransferSyntax, c.Bus.Topics.State, c.Bus.Topics.Image}
	for _, topic := range topics {
		if topic == "" {
			problems = append(problems, "bus topic names must not be empty")
			break
		}
	}

	batches := map[string]BatchConfig{
		"BATCH_SCP":       c.Pipelines.SCP,
		"BATCH_STORAGE":   c.Pipelines.Storage,
		"BATCH_TRANSCODE": c.Pipelines.Transcode,
		"BATCH_PROJECT":   c.Pipelines.Project,
		"BATCH_STATE":     c.Pipelines.State,
		"BATCH_IMAGE":     c.Pipelines.Image,
	}
	for prefix, b := range batches {
		if b.SizeThreshold <= 0 {
			problems = append(problems, prefix+"_SIZE must be positive")
		}
		if b.StaleAfter <= 0 || b.PollInterval <= 0 {
			problems = append(problems, prefix+"_STALE_AFTER and _POLL_INTERVAL must be positive")
		}
		if b.Order != "fifo" && b.Order != "lifo" {
			problems = append(problems, prefix+"_ORDER must be fifo or lifo")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5s") and plain seconds ("5")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "ingest"
}
