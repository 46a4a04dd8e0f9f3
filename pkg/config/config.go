package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DefaultSystemActorID identifies maintenance scripts and unauthenticated internal callers.
const DefaultSystemActorID = "00000000-0000-0000-0000-000000000001"

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Internships InternshipConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// InternshipConfig tunes the placement lifecycle and temporal history behaviour.
type InternshipConfig struct {
	SystemActorID              string
	SystemActorName            string
	ConflictRetries            int
	StrictFieldMatch           bool
	AllowCompletedReactivation bool
	EnableTimelineCache        bool
	TimelineCacheTTL           time.Duration
	HistoryPageLimit           int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	retries := v.GetInt("INTERNSHIP_CONFLICT_RETRIES")
	if retries < 0 {
		retries = 0
	}
	pageLimit := v.GetInt("HISTORY_PAGE_LIMIT")
	if pageLimit <= 0 || pageLimit > 500 {
		pageLimit = 50
	}
	actorID := strings.TrimSpace(v.GetString("SYSTEM_ACTOR_ID"))
	if actorID == "" {
		actorID = DefaultSystemActorID
	}
	cfg.Internships = InternshipConfig{
		SystemActorID:              actorID,
		SystemActorName:            v.GetString("SYSTEM_ACTOR_NAME"),
		ConflictRetries:            retries,
		StrictFieldMatch:           v.GetBool("INTERNSHIP_STRICT_FIELD_MATCH"),
		AllowCompletedReactivation: v.GetBool("INTERNSHIP_ALLOW_COMPLETED_REACTIVATION"),
		EnableTimelineCache:        v.GetBool("ENABLE_TIMELINE_CACHE"),
		TimelineCacheTTL:           parseDuration(v.GetString("TIMELINE_CACHE_TTL"), 5*time.Minute),
		HistoryPageLimit:           pageLimit,
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_pkl")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SYSTEM_ACTOR_ID", DefaultSystemActorID)
	v.SetDefault("SYSTEM_ACTOR_NAME", "system")
	v.SetDefault("INTERNSHIP_CONFLICT_RETRIES", 3)
	v.SetDefault("INTERNSHIP_STRICT_FIELD_MATCH", false)
	v.SetDefault("INTERNSHIP_ALLOW_COMPLETED_REACTIVATION", false)
	v.SetDefault("ENABLE_TIMELINE_CACHE", false)
	v.SetDefault("TIMELINE_CACHE_TTL", "5m")
	v.SetDefault("HISTORY_PAGE_LIMIT", 50)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
