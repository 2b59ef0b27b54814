package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	JWTSecret   string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	HTTPServer  `yaml:"http_server"`
	Booking     Booking  `yaml:"booking"`
	Calendar    Calendar `yaml:"calendar"`
	Email       Email    `yaml:"email"`
	Outbox      Outbox   `yaml:"outbox"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type Booking struct {
	SlotDuration time.Duration `yaml:"slot_duration" env-default:"30m"`
}

// Calendar configures the remote-calendar client. ValidationPolicy decides
// what slot validation does when the busy-interval query fails: "fail_open"
// matches slot generation (the slot passes), "fail_closed" rejects the
// attempt. Generation is always fail-open.
type Calendar struct {
	ClientID         string        `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret     string        `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	QueryTimeout     time.Duration `yaml:"query_timeout" env-default:"3s"`
	ValidationPolicy string        `yaml:"validation_policy" env-default:"fail_closed"`
}

type Email struct {
	SendGridKey string `yaml:"sendgrid_key" env:"SENDGRID_API_KEY"`
	FromEmail   string `yaml:"from_email" env-default:"bookings@example.com"`
	FromName    string `yaml:"from_name" env-default:"Scheduler"`
}

type Outbox struct {
	PollInterval time.Duration `yaml:"poll_interval" env-default:"5s"`
	MaxAttempts  int           `yaml:"max_attempts" env-default:"5"`
	BaseDelay    time.Duration `yaml:"base_delay" env-default:"30s"`
	BatchSize    int           `yaml:"batch_size" env-default:"25"`
}

const (
	PolicyFailOpen   = "fail_open"
	PolicyFailClosed = "fail_closed"
)

func MustLoad() *Config {
	var cfg Config

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("Config file does not exist: %s", configPath)
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	if cfg.Calendar.ValidationPolicy != PolicyFailOpen && cfg.Calendar.ValidationPolicy != PolicyFailClosed {
		log.Fatalf("Invalid calendar.validation_policy: %s", cfg.Calendar.ValidationPolicy)
	}

	return &cfg
}
