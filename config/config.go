package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server settings, populated from environment variables.
type Config struct {
	ServerPort int
	Database   DatabaseConfig
	Auth       AuthConfig
	Poller     PollerConfig
	Tanks      TankConfig
	Archive    ArchiveConfig
	Alerts     AlertConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// AuthConfig configures session token issuance.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// PollerConfig configures the background forecast poller. The poller is
// enabled only when an API key is present. FetchTimeout must stay shorter
// than Interval so a slow upstream can never overlap the next tick.
type PollerConfig struct {
	Enabled      bool
	Interval     time.Duration
	FetchTimeout time.Duration
	APIKey       string
	BaseURL      string
	Latitude     float64
	Longitude    float64
}

// TankConfig holds tank defaults applied at registration time.
type TankConfig struct {
	// DefaultHeightMeters is used when a tank is registered without an
	// explicit physical height.
	DefaultHeightMeters float64
}

// ArchiveConfig selects the object-storage backend used to archive cleared
// tank logs. An empty backend disables archiving.
type ArchiveConfig struct {
	Backend string // "", "minio", or "gcs"
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	ProjectID       string
	Bucket          string
	CredentialsFile string
}

// AlertConfig selects the message broker used to publish low-level alerts.
// An empty backend disables alert publishing.
type AlertConfig struct {
	Backend  string // "", "rabbitmq", or "pubsub"
	Channel  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID       string
	CredentialsFile string
}

// LogConfig configures structured logging for background components.
type LogConfig struct {
	Level  string
	Format string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "hydroforecast"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "hydroforecast_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	pollerAPIKey := getEnv("WEATHER_API_KEY", "")

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("TOKEN_TTL", 24*time.Hour),
		},
		Poller: PollerConfig{
			Enabled:      pollerAPIKey != "" && getEnvBool("POLLER_ENABLED", true),
			Interval:     getEnvDuration("POLL_INTERVAL", 60*time.Second),
			FetchTimeout: getEnvDuration("POLL_FETCH_TIMEOUT", 10*time.Second),
			APIKey:       pollerAPIKey,
			BaseURL:      getEnv("WEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5/weather"),
			Latitude:     getEnvFloat("WEATHER_LATITUDE", 16.705),
			Longitude:    getEnvFloat("WEATHER_LONGITUDE", 74.2433),
		},
		Tanks: TankConfig{
			DefaultHeightMeters: getEnvFloat("DEFAULT_TANK_HEIGHT_METERS", 3),
		},
		Archive: ArchiveConfig{
			Backend: getEnv("ARCHIVE_BACKEND", ""),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "tanklog-archive"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				Bucket:          getEnv("GCS_BUCKET", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
		Alerts: AlertConfig{
			Backend: getEnv("ALERT_BACKEND", ""),
			Channel: getEnv("ALERT_CHANNEL", "tank-alerts"),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			},
			PubSub: PubSubConfig{
				ProjectID:       getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile: getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			},
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
			return value
		}
	}
	return defaultValue
}
