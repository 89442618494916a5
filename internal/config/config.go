package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Env        string   `yaml:"env" env:"APP_ENV" env-default:"local"`
	BaseURL    string   `yaml:"app_base_url" env:"APP_BASE_URL" env-default:"http://localhost:3000"`
	CORSOrigin []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	HTTP       HTTP     `yaml:"http"`
	GRPC       GRPC     `yaml:"grpc"`
	Database   Database `yaml:"database"`
	Auth       Auth     `yaml:"auth"`
	Mail       Mail     `yaml:"mail"`
	Log        Log      `yaml:"log"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	// TrustForwardedFor keys the login limiter on X-Forwarded-For. Enable only behind a proxy.
	TrustForwardedFor bool `yaml:"trust_forwarded_for" env:"HTTP_TRUST_FORWARDED_FOR" env-default:"false"`
}

type GRPC struct {
	// Addr is empty when the gRPC listener is disabled.
	Addr string `yaml:"addr" env:"GRPC_ADDR"`
}

type Database struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type Auth struct {
	JWTSecret         string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-required:"true"`
	TokenTTL          time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"30m"`
	Issuer            string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"classdesk"`
	BcryptCost        int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST" env-default:"10"`
	LoginRatePerSec   float64       `yaml:"login_rate_per_sec" env:"AUTH_LOGIN_RATE_PER_SEC" env-default:"1"`
	LoginBurst        int           `yaml:"login_burst" env:"AUTH_LOGIN_BURST" env-default:"5"`
	RevocationEnabled bool          `yaml:"revocation_enabled" env:"AUTH_REVOCATION_ENABLED" env-default:"false"`

	// Bootstrap creates this account at startup when it does not exist yet.
	Bootstrap Bootstrap `yaml:"bootstrap"`
}

type Bootstrap struct {
	Email          string `yaml:"email" env:"AUTH_BOOTSTRAP_EMAIL"`
	Password       string `yaml:"password" env:"AUTH_BOOTSTRAP_PASSWORD"`
	OrganizationID int64  `yaml:"organization_id" env:"AUTH_BOOTSTRAP_ORG_ID" env-default:"1"`
	RoleID         int64  `yaml:"role_id" env:"AUTH_BOOTSTRAP_ROLE_ID" env-default:"1"`
}

// Enabled reports whether a bootstrap account is configured.
func (b Bootstrap) Enabled() bool {
	return strings.TrimSpace(b.Email) != ""
}

type Mail struct {
	SMTPHost    string        `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort    int           `yaml:"smtp_port" env:"SMTP_PORT" env-default:"587"`
	Username    string        `yaml:"smtp_username" env:"SMTP_USERNAME"`
	Password    string        `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	From        string        `yaml:"from" env:"SMTP_FROM"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"MAIL_SEND_TIMEOUT" env-default:"10s"`
	QueueSize   int           `yaml:"queue_size" env:"MAIL_QUEUE_SIZE" env-default:"100"`
	Workers     int           `yaml:"workers" env:"MAIL_WORKERS" env-default:"2"`
}

// Enabled reports whether outbound SMTP is configured.
func (m Mail) Enabled() bool {
	return strings.TrimSpace(m.SMTPHost) != ""
}

type Log struct {
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from the optional YAML file at path, then the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if strings.TrimSpace(path) != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_TOKEN_TTL must be positive"))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("AUTH_BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Auth.LoginRatePerSec <= 0 || c.Auth.LoginBurst <= 0 {
		errs = append(errs, errors.New("AUTH_LOGIN_RATE_PER_SEC and AUTH_LOGIN_BURST must be positive"))
	}
	if c.Mail.Enabled() {
		if c.Mail.SMTPPort <= 0 || c.Mail.SMTPPort > 65535 {
			errs = append(errs, errors.New("SMTP_PORT is out of range"))
		}
		if strings.TrimSpace(c.Mail.From) == "" {
			errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
		}
	}
	if c.Auth.Bootstrap.Enabled() {
		if c.Auth.Bootstrap.OrganizationID <= 0 || c.Auth.Bootstrap.RoleID <= 0 {
			errs = append(errs, errors.New("AUTH_BOOTSTRAP_ORG_ID and AUTH_BOOTSTRAP_ROLE_ID must be positive"))
		}
		if c.Auth.Bootstrap.Password == "" && !c.Mail.Enabled() {
			errs = append(errs, errors.New("AUTH_BOOTSTRAP_PASSWORD is required when SMTP_HOST is not set"))
		}
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("HTTP_MAX_BODY_BYTES must be positive"))
	}
	if c.Mail.SendTimeout <= 0 {
		errs = append(errs, errors.New("MAIL_SEND_TIMEOUT must be positive"))
	}
	if c.Mail.QueueSize <= 0 || c.Mail.Workers <= 0 {
		errs = append(errs, errors.New("MAIL_QUEUE_SIZE and MAIL_WORKERS must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LogValue omits secrets.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.Env),
		slog.String("http_addr", c.HTTP.Addr),
		slog.String("grpc_addr", c.GRPC.Addr),
		slog.Bool("database", c.Database.DSN != ""),
		slog.Duration("token_ttl", c.Auth.TokenTTL),
		slog.String("issuer", c.Auth.Issuer),
		slog.Bool("revocation", c.Auth.RevocationEnabled),
		slog.String("bootstrap_email", c.Auth.Bootstrap.Email),
		slog.Bool("smtp", c.Mail.Enabled()),
		slog.String("log_level", c.Log.Level),
	)
}
