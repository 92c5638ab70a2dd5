package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	ServerAddr      string   `json:"server_addr"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string `json:"allowed_origins"`
	LogLevel        string   `json:"log_level"`
	LogFormat       string   `json:"log_format"` // text|json

	StoreDriver      string `json:"store_driver"` // postgres|sqlite
	DatabaseURL      string `json:"database_url"`
	PostgresPassword string `json:"postgres_password"`
	SQLitePath       string `json:"sqlite_path"`
	SeedSample       bool   `json:"seed_sample"`

	MongoURI        string `json:"mongo_uri"`
	MongoDatabase   string `json:"mongo_database"`
	MongoCollection string `json:"mongo_collection"`

	TelegramToken    string `json:"telegram_token"`
	TelegramChatID   int64  `json:"telegram_chat_id"`
	TelegramEndpoint string `json:"telegram_endpoint"`

	RabbitMQURL   string `json:"rabbitmq_url"`
	RabbitMQQueue string `json:"rabbitmq_queue"`

	VoucherThreshold decimal.Decimal `json:"voucher_threshold"`
}

// Duration reads either a Go duration string ("10s") or a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		ServerAddr:       ":8080",
		ShutdownTimeout:  Duration(10 * time.Second),
		LogLevel:         "info",
		LogFormat:        "text",
		StoreDriver:      "sqlite",
		SQLitePath:       "database.db",
		MongoDatabase:    "users_vouchers",
		MongoCollection:  "vouchers",
		RabbitMQQueue:    "notifications_queue",
		VoucherThreshold: decimal.NewFromInt(1000),
	}
}

// loadConfig reads the JSON file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if config.StoreDriver == "postgres" && config.DatabaseURL == "" {
		config.DatabaseURL = fmt.Sprintf("postgresql://postgres:%s@localhost:5432/user_spending", config.PostgresPassword)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ServerAddr, "SERVER_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.StoreDriver, "STORE_DRIVER")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.PostgresPassword, "POSTGRES_PASSWORD")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.MongoURI, "MONGO_URI")
	setString(&c.MongoDatabase, "MONGO_DATABASE")
	setString(&c.MongoCollection, "MONGO_COLLECTION")
	setString(&c.TelegramToken, "TELEGRAM_TOKEN")
	setString(&c.TelegramEndpoint, "TELEGRAM_ENDPOINT")
	setString(&c.RabbitMQURL, "RABBITMQ_URL")
	setString(&c.RabbitMQQueue, "RABBITMQ_QUEUE")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}

	if v := os.Getenv("SEED_SAMPLE"); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SEED_SAMPLE: %w", err)
		}
		c.SeedSample = seed
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		c.TelegramChatID = id
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = Duration(d)
	}

	if v := os.Getenv("VOUCHER_THRESHOLD"); v != "" {
		threshold, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid VOUCHER_THRESHOLD: %w", err)
		}
		c.VoucherThreshold = threshold
	}

	return nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown store_driver %q (want postgres or sqlite)", c.StoreDriver)
	}
	if c.StoreDriver == "sqlite" && c.SQLitePath == "" {
		return errors.New("sqlite_path is required for the sqlite store")
	}
	if c.VoucherThreshold.IsNegative() {
		return errors.New("voucher_threshold must not be negative")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return errors.New("telegram_chat_id is required when telegram_token is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
