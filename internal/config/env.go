package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/markdave123-py/pdfindex/internal/logger"
)

const (
	StorageS3 = "s3"
	StorageFS = "fs"

	KeyStrategyShared     = "shared"
	KeyStrategyPerRequest = "per-request"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string `validate:"required"`
	BucketName   string `validate:"required"`
	Storage      string `validate:"oneof=s3 fs"`
	StorageDir   string `validate:"required_if=Storage fs"`

	EmbedModels      []string `validate:"min=1,dive,required"`
	EmbedBatchSize   int      `validate:"gte=1"`
	EmbedConcurrency int      `validate:"gte=1"`
	EmbedCacheSize   int      `validate:"gte=0"`
	GeminiAPIKey     string
	OpenAIAPIKey     string
	OpenAIBaseURL    string

	ChunkSize    int    `validate:"gt=0"`
	ChunkOverlap int    `validate:"gte=0,ltfield=ChunkSize"`
	Loader       string `validate:"oneof=pdf docconv"`
	StagingDir   string `validate:"required"`

	KeyStrategy   string `validate:"oneof=shared per-request"`
	PublishKey    string `validate:"required_if=KeyStrategy shared"`
	PublishPrefix string

	Port      string `validate:"required"`
	Workers   int    `validate:"gte=1"`
	QueueSize int    `validate:"gte=1"`
	MaxUpload int64  `validate:"gt=0"`

	LogLevel string
	LogJSON  bool
}

var validate = validator.New()

// LoadConfig loads the environment variables (and .env, if present) and
// returns a validated config.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SslCertPath:      getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey:     getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:     getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:        getEnv("AWS_REGION", "us-east-1"),
		BucketName:       getEnv("BUCKET_NAME", "pdfindex"),
		Storage:          getEnv("STORAGE", StorageS3),
		StorageDir:       getEnv("STORAGE_DIR", "./data"),
		EmbedModels:      getEnvList("EMBED_MODELS", []string{"amazon.titan-embed-text-v1", "cohere.embed-english-v3"}),
		EmbedBatchSize:   getEnvInt("EMBED_BATCH_SIZE", 16),
		EmbedConcurrency: getEnvInt("EMBED_CONCURRENCY", 4),
		EmbedCacheSize:   getEnvInt("EMBED_CACHE_SIZE", 0),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		ChunkSize:        getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 200),
		Loader:           getEnv("LOADER", "pdf"),
		StagingDir:       getEnv("STAGING_DIR", filepath.Join(os.TempDir(), "pdfindex")),
		KeyStrategy:      getEnv("PUBLISH_KEY_STRATEGY", KeyStrategyPerRequest),
		PublishKey:       getEnv("PUBLISH_KEY", "my_faiss"),
		PublishPrefix:    getEnv("PUBLISH_PREFIX", "indexes"),
		Port:             getEnv("PORT", "8080"),
		Workers:          getEnvInt("WORKERS", 2),
		QueueSize:        getEnvInt("QUEUE_SIZE", 64),
		MaxUpload:        int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogJSON:          getEnvBool("LOG_JSON", false),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.GetDefault().Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.GetDefault().Warn("config value is not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
