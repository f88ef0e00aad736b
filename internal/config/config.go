package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	AI       AIConfig
	Sheets   SheetsConfig
	Jobs     JobsConfig
	Realtime RealtimeConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key string
}

type AIConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type SheetsConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type JobsConfig struct {
	BatchSize        int
	RetentionDays    int
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	BreakerThreshold int
	BreakerReset     time.Duration
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
}

type EventsConfig struct {
	HistoryLimit int
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("DB_MAX_IDLE_CONNS", 10)
	viper.SetDefault("DB_MAX_OPEN_CONNS", 100)
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("AI_MODEL", "gpt-4o-mini")
	viper.SetDefault("AI_TEMPERATURE", 0.2)
	viper.SetDefault("AI_TIMEOUT", "60s")
	viper.SetDefault("SHEETS_TIMEOUT", "30s")
	viper.SetDefault("JOB_BATCH_SIZE", 25)
	viper.SetDefault("JOB_RETENTION_DAYS", 30)
	viper.SetDefault("JOB_MAX_ATTEMPTS", 3)
	viper.SetDefault("JOB_INITIAL_DELAY", "1s")
	viper.SetDefault("JOB_MAX_DELAY", "30s")
	viper.SetDefault("JOB_BACKOFF_FACTOR", 2.0)
	viper.SetDefault("JOB_BREAKER_THRESHOLD", 5)
	viper.SetDefault("JOB_BREAKER_RESET", "60s")
	viper.SetDefault("RT_HEARTBEAT_INTERVAL", "30s")
	viper.SetDefault("RT_IDLE_TIMEOUT", "120s")
	viper.SetDefault("EVENT_HISTORY_LIMIT", 25)

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),

			MaxIdleConns:    viper.GetInt("DB_MAX_IDLE_CONNS"),
			MaxOpenConns:    viper.GetInt("DB_MAX_OPEN_CONNS"),
			ConnMaxLifetime: durationOrDefault("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
		AI: AIConfig{
			APIKey:      viper.GetString("OPENAI_API_KEY"),
			Model:       viper.GetString("AI_MODEL"),
			Temperature: viper.GetFloat64("AI_TEMPERATURE"),
			Timeout:     durationOrDefault("AI_TIMEOUT", 60*time.Second),
		},
		Sheets: SheetsConfig{
			BaseURL: viper.GetString("SHEETS_BASE_URL"),
			Token:   viper.GetString("SHEETS_TOKEN"),
			Timeout: durationOrDefault("SHEETS_TIMEOUT", 30*time.Second),
		},
		Jobs: JobsConfig{
			BatchSize:        viper.GetInt("JOB_BATCH_SIZE"),
			RetentionDays:    viper.GetInt("JOB_RETENTION_DAYS"),
			MaxAttempts:      viper.GetInt("JOB_MAX_ATTEMPTS"),
			InitialDelay:     durationOrDefault("JOB_INITIAL_DELAY", time.Second),
			MaxDelay:         durationOrDefault("JOB_MAX_DELAY", 30*time.Second),
			BackoffFactor:    viper.GetFloat64("JOB_BACKOFF_FACTOR"),
			BreakerThreshold: viper.GetInt("JOB_BREAKER_THRESHOLD"),
			BreakerReset:     durationOrDefault("JOB_BREAKER_RESET", time.Minute),
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: durationOrDefault("RT_HEARTBEAT_INTERVAL", 30*time.Second),
			IdleTimeout:       durationOrDefault("RT_IDLE_TIMEOUT", 120*time.Second),
		},
		Events: EventsConfig{
			HistoryLimit: viper.GetInt("EVENT_HISTORY_LIMIT"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.AI.APIKey == "" {
		log.Println("WARNING: OPENAI_API_KEY is not set")
	}
	if cfg.Sheets.BaseURL == "" {
		log.Println("WARNING: SHEETS_BASE_URL is not set")
	}

	return cfg, nil
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
