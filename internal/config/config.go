package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	AppEnv    string
	LogLevel  string
	UploadDir string

	DBDriver string
	DBDSN    string

	GeminiAPIKey string
	GeminiModel  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ParseCacheTTL time.Duration

	NATSURL         string
	NATSConnTimeout time.Duration

	GmailCredentialsFile string
	GmailTokenFile       string
	MailSyncInterval     time.Duration

	OTLPEndpoint string

	CORSAllowOrigins []string
}

// ClientConfig is what jobctl needs.
type ClientConfig struct {
	BaseURL string
	NATSURL string
	Timeout time.Duration
}

// Load reads .env if present and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	config := &Config{
		Port:      getEnvString("PORT", "3001"),
		AppEnv:    getEnvString("APP_ENV", "development"),
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		UploadDir: getEnvString("UPLOAD_DIR", "uploads"),

		DBDriver: strings.ToLower(getEnvString("DB_DRIVER", "sqlite")),
		DBDSN:    getEnvString("DB_DSN", "jobs.db"),

		GeminiAPIKey: getEnvString("GEMINI_API_KEY", ""),
		GeminiModel:  getEnvString("GEMINI_MODEL", "gemini-2.5-flash"),

		RedisAddr:     getEnvString("REDIS_ADDR", ""),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		ParseCacheTTL: getEnvDuration("PARSE_CACHE_TTL", 24*time.Hour),

		NATSURL:         getEnvString("NATS_URL", ""),
		NATSConnTimeout: getEnvDuration("NATS_CONN_TIMEOUT", 10*time.Second),

		GmailCredentialsFile: getEnvString("GMAIL_CREDENTIALS_FILE", ""),
		GmailTokenFile:       getEnvString("GMAIL_TOKEN_FILE", "token.json"),
		MailSyncInterval:     getEnvDuration("MAIL_SYNC_INTERVAL", time.Minute),

		OTLPEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		CORSAllowOrigins: getEnvList("CORS_ALLOW_ORIGINS", nil),
	}

	return config, nil
}

func LoadClient() *ClientConfig {
	_ = godotenv.Load()

	return &ClientConfig{
		BaseURL: strings.TrimRight(getEnvString("JOBTRACKER_URL", "http://localhost:3001"), "/"),
		NATSURL: getEnvString("NATS_URL", ""),
		Timeout: getEnvDuration("JOBTRACKER_TIMEOUT", 30*time.Second),
	}
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value and drops empty items.
func getEnvList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
