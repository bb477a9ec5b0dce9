package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// AI vision service
	AIBaseURL        string
	AIConnectTimeout time.Duration
	AIReadTimeout    time.Duration
	AIMaskTimeout    time.Duration
	AIWorkers        int

	// Label vocabulary used when mapping AI results onto reports
	AINormalSuffixes     []string
	AIUnclassifiableText string

	// Media
	MediaBackend string // "local" or "supabase"
	PhotoDir     string
	MaskDir      string

	// Supabase
	SupabaseURL         string
	SupabaseKey         string
	SupabasePhotoBucket string
	SupabaseMaskBucket  string
	SupabaseEventsTable string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret string

	// Notifications
	ExpoPushURL      string
	PushTokenTTL     time.Duration
	NotifyOnAnalysis bool
	// NearbyPushRadius in meters; 0 disables pushes to nearby reporters.
	NearbyPushRadius int

	// Telemetry
	SentryDSN string

	// Server
	Port        string
	Environment string
	BaseURL     string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		AIBaseURL:        strings.TrimSuffix(getEnv("AI_BASE_URL", "http://localhost:8000"), "/"),
		AIConnectTimeout: getDuration("AI_CONNECT_TIMEOUT", 5*time.Second),
		AIReadTimeout:    getDuration("AI_READ_TIMEOUT", 120*time.Second),
		AIMaskTimeout:    getDuration("AI_MASK_TIMEOUT", 30*time.Second),
		AIWorkers:        getInt("AI_WORKERS", 4),

		AINormalSuffixes:     splitList(getEnv("AI_NORMAL_SUFFIXES", "정상")),
		AIUnclassifiableText: getEnv("AI_UNCLASSIFIABLE_LABEL", "분류불가"),

		MediaBackend: getEnv("MEDIA_BACKEND", "local"),
		PhotoDir:     getEnv("PHOTO_DIR", "./registration_photos"),
		MaskDir:      getEnv("MASK_DIR", "./analysis_photo"),

		SupabaseURL:         getEnv("SUPABASE_URL", ""),
		SupabaseKey:         getEnv("SUPABASE_KEY", ""),
		SupabasePhotoBucket: getEnv("SUPABASE_PHOTO_BUCKET", "registration-photos"),
		SupabaseMaskBucket:  getEnv("SUPABASE_MASK_BUCKET", "analysis-masks"),
		SupabaseEventsTable: getEnv("SUPABASE_EVENTS_TABLE", "report_events"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		ExpoPushURL:      getEnv("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		PushTokenTTL:     getDuration("PUSH_TOKEN_TTL", time.Minute),
		NotifyOnAnalysis: getEnv("NOTIFY_ON_ANALYSIS", "true") == "true",
		NearbyPushRadius: getInt("NEARBY_PUSH_RADIUS_M", 1000),

		SentryDSN: getEnv("SENTRY_DSN", ""),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     strings.TrimSuffix(getEnv("BASE_URL", "http://localhost:8080"), "/"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AIBaseURL == "" {
		return fmt.Errorf("AI_BASE_URL is required")
	}
	if c.AIWorkers < 1 {
		return fmt.Errorf("AI_WORKERS must be at least 1, got %d", c.AIWorkers)
	}
	if c.NearbyPushRadius < 0 {
		return fmt.Errorf("NEARBY_PUSH_RADIUS_M must not be negative, got %d", c.NearbyPushRadius)
	}
	switch c.MediaBackend {
	case "local":
	case "supabase":
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required when MEDIA_BACKEND=supabase")
		}
		if c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_KEY is required when MEDIA_BACKEND=supabase")
		}
	default:
		return fmt.Errorf("MEDIA_BACKEND must be \"local\" or \"supabase\", got %q", c.MediaBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
