package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Database         DatabaseConfig
	Search           SearchConfig
	MachineLearning  MachineLearningConfig
	Redis            RedisConfig
	OpenAI           OpenAIConfig
	Gemini           GeminiConfig
	Translate        string // "openai", "gemini" or empty to disable query translation
	Server           ServerConfig
	SystemConfigPath string // optional YAML overlay for the system config
	LogLevel         string
}

type DatabaseConfig struct {
	URL                    string // PostgreSQL connection URL
	MaxOpenConns           int    // Maximum open connections (default 25)
	MaxIdleConns           int    // Maximum idle connections (default 5)
	HNSW                   bool   // Serve searches from in-memory HNSW indexes
	HNSWIndexPath          string // Path to persist face HNSW index (optional, if empty index is rebuilt on startup)
	HNSWSmartInfoIndexPath string // Path to persist smart info HNSW index (optional)
}

type SearchConfig struct {
	MaxDistance     float64 // CLIP cosine distance cutoff (default 0.25)
	FaceMaxDistance float64 // face cosine distance cutoff (default 0.6)
	CLIPDim         int     // defaults to 512
	FaceDim         int     // defaults to 512
	ResultLimit     int     // defaults to 100
}

type MachineLearningConfig struct {
	Timeout   time.Duration // per encoder request (default 10s)
	CacheTTL  time.Duration // text embedding cache TTL (default 24h)
	CacheSize int           // in-memory cache entries when Redis is not configured (default 1000)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (c RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type ServerConfig struct {
	Host           string   // defaults to 0.0.0.0
	Port           int      // defaults to 2283
	AllowedOrigins []string // CORS origins besides localhost
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegativeInt is envInt that also accepts zero, e.g. for Redis DB numbers.
func envNonNegativeInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive Go duration such as "10s", falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envBool reads a boolean ("1", "true", ...), falling back to defaultVal.
func envBool(key string, defaultVal bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:                    os.Getenv("DATABASE_URL"),
			MaxOpenConns:           envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:           envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSW:                   envBool("HNSW_ENABLED", false),
			HNSWIndexPath:          os.Getenv("HNSW_INDEX_PATH"),
			HNSWSmartInfoIndexPath: os.Getenv("HNSW_SMART_INFO_INDEX_PATH"),
		},
		Search: SearchConfig{
			MaxDistance:     envFloat("SEARCH_MAX_DISTANCE", 0.25),
			FaceMaxDistance: envFloat("FACE_MAX_DISTANCE", 0.6),
			CLIPDim:         envInt("CLIP_DIM", 512),
			FaceDim:         envInt("FACE_DIM", 512),
			ResultLimit:     envInt("SEARCH_RESULT_LIMIT", 100),
		},
		MachineLearning: MachineLearningConfig{
			Timeout:   envDuration("MACHINE_LEARNING_TIMEOUT", 10*time.Second),
			CacheTTL:  envDuration("MACHINE_LEARNING_CACHE_TTL", 24*time.Hour),
			CacheSize: envInt("MACHINE_LEARNING_CACHE_SIZE", 1000),
		},
		Redis: RedisConfig{
			Host:     os.Getenv("REDIS_HOST"),
			Port:     envInt("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envNonNegativeInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Translate: strings.ToLower(strings.TrimSpace(os.Getenv("SEARCH_TRANSLATE"))),
		Server: ServerConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 2283),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		SystemConfigPath: os.Getenv("SYSTEM_CONFIG_PATH"),
		LogLevel:         envString("LOG_LEVEL", "info"),
	}
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
