package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix namespaces every environment variable, e.g. LICENSEHUB_SERVER_PORT.
const Prefix = "LICENSEHUB"

type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Database DatabaseConfig `envconfig:"DB"`
	Logging  LoggingConfig  `envconfig:"LOG"`
	Auth     AuthConfig     `envconfig:"AUTH"`
	Mail     MailConfig     `envconfig:"MAIL"`
	App      AppConfig      `envconfig:"APP"`
	Seed     SeedConfig     `envconfig:"SEED"`
}

type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

type DatabaseConfig struct {
	Driver string `envconfig:"DRIVER" default:"postgres"`
	DSN    string `envconfig:"DSN"`
}

type LoggingConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
}

type AuthConfig struct {
	AccessSecret  string `envconfig:"ACCESS_SECRET"`
	RefreshSecret string `envconfig:"REFRESH_SECRET"`
	// Access tokens always live one hour; only the refresh lifetime is tunable.
	RefreshTTL time.Duration `envconfig:"REFRESH_TTL" default:"720h"`
	ResetTTL   time.Duration `envconfig:"RESET_TTL" default:"1h"`
	// AutoActivateOnFirstDevice flips an inactive license to active when its
	// first device registers instead of rejecting the registration.
	AutoActivateOnFirstDevice bool `envconfig:"AUTO_ACTIVATE_ON_FIRST_DEVICE" default:"false"`
}

// MailConfig configures SMTP delivery. An empty Host selects the log-only sender.
type MailConfig struct {
	Host     string `envconfig:"HOST"`
	Port     int    `envconfig:"PORT" default:"587"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`
	From     string `envconfig:"FROM" default:"no-reply@licensehub.local"`
	// SendTimeout bounds each background delivery.
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"30s"`
}

type AppConfig struct {
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8080"`
}

type SeedConfig struct {
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
}

// Load reads envFile (or ./.env when empty and present) into the process
// environment, then decodes and validates the configuration.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.Auth.AccessSecret == "" {
		errs = append(errs, errors.New("access token secret is required"))
	}
	if c.Auth.RefreshSecret == "" {
		errs = append(errs, errors.New("refresh token secret is required"))
	}
	if c.Auth.AccessSecret != "" && c.Auth.AccessSecret == c.Auth.RefreshSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	if c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("refresh token lifetime must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port %d", c.Server.Port))
	}
	if (c.Seed.AdminEmail == "") != (c.Seed.AdminPassword == "") {
		errs = append(errs, errors.New("seed admin email and password must be set together"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
