package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	AwsAccessKey    string
	AwsSecretKey    string
	AwsRegion       string
	BucketName      string
	PublicAssetBase string // base URL for page-image links; empty = bucket URL

	AIProvider    string // "gemini" or "openai"
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	EmbedModel    string
	EmbedDim      int
	GenModel      string

	JWTSecret string
	Port      string
	LogMode   string
	Workers   int

	ChunkStrategy string // "structural" or "window"
	ChunkTarget   int
	ChunkOverlap  int

	EmbedMaxChars    int
	EmbedMaxAttempts int
	EmbedBaseDelay   time.Duration
	EmbedBackoff     float64

	IngestBatchWidth int
	IngestBatchDelay time.Duration
	EmbedPassLimit   int
	EmbedItemDelay   time.Duration
	ClaimLease       time.Duration

	RetrievalTopK      int
	RetrievalThreshold float64
	StreamCharMode     bool
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		AwsAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:    getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:       getEnv("AWS_REGION", "us-east-2"),
		BucketName:      getEnv("BUCKET_NAME", "pagemark-docs"),
		PublicAssetBase: getEnv("PUBLIC_ASSET_BASE", ""),

		AIProvider:    getEnv("AI_PROVIDER", "gemini"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		// Empty model names let each provider apply its own default.
		EmbedModel: getEnv("EMBED_MODEL", ""),
		EmbedDim:   getEnvInt("EMBED_DIM", 768),
		GenModel:   getEnv("GEN_MODEL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		Port:      getEnv("PORT", "8080"),
		LogMode:   getEnv("LOG_MODE", "dev"),
		Workers:   getEnvInt("INGEST_WORKERS", 2),

		ChunkStrategy: getEnv("CHUNK_STRATEGY", "structural"),
		ChunkTarget:   getEnvInt("CHUNK_TARGET", 1500),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 200),

		EmbedMaxChars:    getEnvInt("EMBED_MAX_CHARS", 8000),
		EmbedMaxAttempts: getEnvInt("EMBED_MAX_ATTEMPTS", 4),
		EmbedBaseDelay:   getEnvDuration("EMBED_BASE_DELAY", 500*time.Millisecond),
		EmbedBackoff:     getEnvFloat("EMBED_BACKOFF", 2.0),

		IngestBatchWidth: getEnvInt("INGEST_BATCH_WIDTH", 5),
		IngestBatchDelay: getEnvDuration("INGEST_BATCH_DELAY", time.Second),
		EmbedPassLimit:   getEnvInt("EMBED_PASS_LIMIT", 10),
		EmbedItemDelay:   getEnvDuration("EMBED_ITEM_DELAY", 200*time.Millisecond),
		ClaimLease:       getEnvDuration("EMBED_CLAIM_LEASE", 2*time.Minute),

		RetrievalTopK:      getEnvInt("RETRIEVAL_TOP_K", 8),
		RetrievalThreshold: getEnvFloat("RETRIEVAL_THRESHOLD", 0.2),
		StreamCharMode:     getEnvBool("STREAM_CHAR_MODE", false),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
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
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
