package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// developmentBypassCodes are accepted without a registry lookup in non-production environments.
var developmentBypassCodes = []string{"ADMIN001", "ADMIN002", "ADMIN003", "SUPERADMIN", "RIDESAFE2024"}

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Auth       AuthConfig
	AdminCodes AdminCodesConfig
	Stats      StatsConfig
	Mail       MailConfig
	Realtime   RealtimeConfig
	Exports    ExportsConfig
}

type DatabaseConfig struct {
	// URL overrides the individual connection fields when set.
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	AutoMigrate     bool
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig tunes the identity adapter.
type AuthConfig struct {
	MaxLoginAttempts    int
	LoginAttemptWindow  time.Duration
	VerificationCodeTTL time.Duration
	ResetCodeTTL        time.Duration
	VerifyURL           string
	ResetURL            string
}

// AdminCodesConfig holds the bypass allow-list accepted without a registry lookup.
type AdminCodesConfig struct {
	BypassCodes []string
}

// StatsConfig governs caching of the admin statistics aggregate.
type StatsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// MailConfig configures the Kafka mail outbox.
type MailConfig struct {
	Enabled  bool
	Brokers  []string
	Topic    string
	Username string
	Password string
	Workers  int
	Retries  int
}

// RealtimeConfig toggles cross-instance relay of change events.
type RealtimeConfig struct {
	RedisRelay bool
	Channel    string
	BufferSize int
}

// ExportsConfig controls admission exports and their signed download links.
type ExportsConfig struct {
	Enabled       bool
	Dir           string
	ResultTTL     time.Duration
	SigningSecret string
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		URL:             v.GetString("DATABASE_URL"),
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Auth = AuthConfig{
		MaxLoginAttempts:    v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
		LoginAttemptWindow:  parseDuration(v.GetString("AUTH_LOGIN_ATTEMPT_WINDOW"), 15*time.Minute),
		VerificationCodeTTL: parseDuration(v.GetString("AUTH_VERIFICATION_CODE_TTL"), 24*time.Hour),
		ResetCodeTTL:        parseDuration(v.GetString("AUTH_RESET_CODE_TTL"), time.Hour),
		VerifyURL:           v.GetString("AUTH_VERIFY_URL"),
		ResetURL:            v.GetString("AUTH_RESET_URL"),
	}

	// The bypass list is opt-in outside development.
	bypass := splitAndTrim(v.GetString("ADMIN_BYPASS_CODES"))
	if !v.IsSet("ADMIN_BYPASS_CODES") && cfg.Env != EnvProduction {
		bypass = append([]string(nil), developmentBypassCodes...)
	}
	cfg.AdminCodes = AdminCodesConfig{BypassCodes: bypass}

	cfg.Stats = StatsConfig{
		CacheEnabled: v.GetBool("STATS_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("STATS_CACHE_TTL"), time.Minute),
	}

	cfg.Mail = MailConfig{
		Enabled:  v.GetBool("MAIL_ENABLED"),
		Brokers:  splitAndTrim(v.GetString("MAIL_KAFKA_BROKERS")),
		Topic:    v.GetString("MAIL_KAFKA_TOPIC"),
		Username: v.GetString("MAIL_KAFKA_USERNAME"),
		Password: v.GetString("MAIL_KAFKA_PASSWORD"),
		Workers:  v.GetInt("MAIL_WORKERS"),
		Retries:  v.GetInt("MAIL_RETRIES"),
	}

	cfg.Realtime = RealtimeConfig{
		RedisRelay: v.GetBool("REALTIME_REDIS_RELAY"),
		Channel:    v.GetString("REALTIME_CHANNEL"),
		BufferSize: v.GetInt("REALTIME_BUFFER_SIZE"),
	}

	cfg.Exports = ExportsConfig{
		Enabled:       v.GetBool("ENABLE_EXPORTS"),
		Dir:           v.GetString("EXPORTS_DIR"),
		ResultTTL:     parseDuration(v.GetString("EXPORTS_RESULT_TTL"), time.Hour),
		SigningSecret: v.GetString("EXPORTS_SIGNING_SECRET"),
	}
	if cfg.Exports.SigningSecret == "" {
		cfg.Exports.SigningSecret = cfg.JWT.Secret
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ridesafe")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "ridesafe-api")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTH_MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("AUTH_LOGIN_ATTEMPT_WINDOW", "15m")
	v.SetDefault("AUTH_VERIFICATION_CODE_TTL", "24h")
	v.SetDefault("AUTH_RESET_CODE_TTL", "1h")
	v.SetDefault("AUTH_VERIFY_URL", "http://localhost:5173/verify-email")
	v.SetDefault("AUTH_RESET_URL", "http://localhost:5173/reset-password")

	v.SetDefault("STATS_CACHE_ENABLED", true)
	v.SetDefault("STATS_CACHE_TTL", "1m")

	v.SetDefault("MAIL_ENABLED", false)
	v.SetDefault("MAIL_KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("MAIL_KAFKA_TOPIC", "ridesafe.mail")
	v.SetDefault("MAIL_WORKERS", 1)
	v.SetDefault("MAIL_RETRIES", 3)

	v.SetDefault("REALTIME_REDIS_RELAY", false)
	v.SetDefault("REALTIME_CHANNEL", "ridesafe:changes")
	v.SetDefault("REALTIME_BUFFER_SIZE", 64)

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORTS_DIR", "./exports")
	v.SetDefault("EXPORTS_RESULT_TTL", "1h")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
