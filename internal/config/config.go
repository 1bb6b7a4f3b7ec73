package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment.
type Config struct {
	DB struct {
		Driver string // "pgx" or "sqlite"
		DSN    string
	}
	API struct {
		Port     string
		BasePath string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Auth struct {
		JWTSecret     string
		TriggerSecret string
	}
	Realtime struct {
		HeartbeatInterval     time.Duration
		MaxConnectionsPerUser int
		BufferSize            int
	}
	Mail struct {
		LookbackDays int
		MaxPerPass   int
	}
	Automation struct {
		Timezone           string
		AutoCloseAfterDays int
	}
	Kafka struct {
		Brokers []string
		Topic   string
		GroupID string
	}
	Telegram struct {
		BotToken      string
		RatePerSecond int
	}
}

// Load reads .env (when present) and environment variables, applies defaults,
// and returns a Config.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DB_DRIVER", "pgx")
	v.SetDefault("API_PORT", ":8080")
	v.SetDefault("API_BASE_PATH", "/api/v0")
	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REALTIME_HEARTBEAT", "30s")
	v.SetDefault("REALTIME_MAX_CONNECTIONS_PER_USER", 10)
	v.SetDefault("REALTIME_BUFFER_SIZE", 32)
	v.SetDefault("MAIL_LOOKBACK_DAYS", 7)
	v.SetDefault("MAIL_MAX_PER_PASS", 100)
	v.SetDefault("AUTOMATION_TIMEZONE", "Local")
	v.SetDefault("AUTOMATION_AUTO_CLOSE_AFTER_DAYS", 0)
	v.SetDefault("KAFKA_TOPIC", "ticket-events")
	v.SetDefault("KAFKA_GROUP_ID", "helpdesk-sync")
	v.SetDefault("TELEGRAM_RATE_PER_SECOND", 20)
	return v
}

func fromViper(v *viper.Viper) (Config, error) {
	var cfg Config

	cfg.DB.Driver = v.GetString("DB_DRIVER")
	cfg.DB.DSN = v.GetString("DB_DSN")

	cfg.API.Port = v.GetString("API_PORT")
	cfg.API.BasePath = v.GetString("API_BASE_PATH")

	cfg.Logging.Dir = v.GetString("LOG_DIR")
	cfg.Logging.Level = v.GetString("LOG_LEVEL")

	cfg.Auth.JWTSecret = v.GetString("JWT_SECRET")
	cfg.Auth.TriggerSecret = v.GetString("TRIGGER_SECRET")

	cfg.Realtime.HeartbeatInterval = v.GetDuration("REALTIME_HEARTBEAT")
	cfg.Realtime.MaxConnectionsPerUser = v.GetInt("REALTIME_MAX_CONNECTIONS_PER_USER")
	cfg.Realtime.BufferSize = v.GetInt("REALTIME_BUFFER_SIZE")

	cfg.Mail.LookbackDays = v.GetInt("MAIL_LOOKBACK_DAYS")
	cfg.Mail.MaxPerPass = v.GetInt("MAIL_MAX_PER_PASS")

	cfg.Automation.Timezone = v.GetString("AUTOMATION_TIMEZONE")
	cfg.Automation.AutoCloseAfterDays = v.GetInt("AUTOMATION_AUTO_CLOSE_AFTER_DAYS")

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	cfg.Kafka.Topic = v.GetString("KAFKA_TOPIC")
	cfg.Kafka.GroupID = v.GetString("KAFKA_GROUP_ID")

	cfg.Telegram.BotToken = v.GetString("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.RatePerSecond = v.GetInt("TELEGRAM_RATE_PER_SECOND")

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}
	if cfg.DB.Driver != "pgx" && cfg.DB.Driver != "sqlite" {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	if cfg.Realtime.HeartbeatInterval <= 0 {
		cfg.Realtime.HeartbeatInterval = 30 * time.Second
	}

	return cfg, nil
}

// Location resolves the automation timezone, falling back to time.Local.
func (c Config) Location() *time.Location {
	if c.Automation.Timezone == "" || c.Automation.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Automation.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
