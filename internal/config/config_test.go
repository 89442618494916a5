package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "top-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "classdesk", cfg.Auth.Issuer)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 587, cfg.Mail.SMTPPort)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigin)
	assert.False(t, cfg.Mail.Enabled())
	assert.False(t, cfg.Auth.RevocationEnabled)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodyBytes)
	assert.False(t, cfg.Auth.Bootstrap.Enabled())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "top-secret")
	t.Setenv("AUTH_TOKEN_TTL", "45m")
	t.Setenv("AUTH_BCRYPT_COST", "12")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "noreply@example.com")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("APP_BASE_URL", "https://app.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.True(t, cfg.Mail.Enabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigin)
	assert.Equal(t, "https://app.example", cfg.BaseURL)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("env: prod\nauth:\n  jwt_secret: from-file\n  token_ttl: 5m\nhttp:\n  addr: \":9090\"\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			HTTP: HTTP{MaxBodyBytes: 1 << 20},
			Auth: Auth{JWTSecret: "s", TokenTTL: time.Minute, BcryptCost: 10, LoginRatePerSec: 1, LoginBurst: 1},
			Mail: Mail{SendTimeout: time.Second, QueueSize: 1, Workers: 1, SMTPPort: 587},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"zero ttl":          func(c *Config) { c.Auth.TokenTTL = 0 },
		"bcrypt too low":    func(c *Config) { c.Auth.BcryptCost = 2 },
		"no burst":          func(c *Config) { c.Auth.LoginBurst = 0 },
		"smtp without from": func(c *Config) { c.Mail.SMTPHost = "smtp.example.com" },
		"no workers":        func(c *Config) { c.Mail.Workers = 0 },
		"no send timeout":   func(c *Config) { c.Mail.SendTimeout = 0 },
		"no body limit":     func(c *Config) { c.HTTP.MaxBodyBytes = 0 },
		"bootstrap without password or smtp": func(c *Config) {
			c.Auth.Bootstrap = Bootstrap{Email: "admin@example.com", OrganizationID: 1, RoleID: 1}
		},
		"bootstrap without role": func(c *Config) {
			c.Auth.Bootstrap = Bootstrap{Email: "admin@example.com", Password: "first-admin-pass", OrganizationID: 1}
		},
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadBootstrapFromEnv(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "top-secret")
	t.Setenv("AUTH_BOOTSTRAP_EMAIL", "admin@example.com")
	t.Setenv("AUTH_BOOTSTRAP_PASSWORD", "first-admin-pass")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Bootstrap.Enabled())
	assert.Equal(t, int64(1), cfg.Auth.Bootstrap.OrganizationID)
	assert.Equal(t, int64(1), cfg.Auth.Bootstrap.RoleID)

	t.Setenv("AUTH_BOOTSTRAP_PASSWORD", "")
	_, err = Load("")
	assert.Error(t, err, "a generated bootstrap password needs SMTP to be delivered")
}

func TestLogValueOmitsSecrets(t *testing.T) {
	cfg := Config{
		Auth:     Auth{JWTSecret: "super-secret-value", Bootstrap: Bootstrap{Email: "admin@example.com", Password: "boot-pass"}},
		Database: Database{DSN: "postgres://u:dbpass@h/db"},
		Mail:     Mail{Password: "smtp-pass"},
	}
	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("config", "config", &cfg)

	out := buf.String()
	assert.NotContains(t, out, "super-secret-value")
	assert.NotContains(t, out, "dbpass")
	assert.NotContains(t, out, "smtp-pass")
	assert.NotContains(t, out, "boot-pass")
	assert.Contains(t, out, `"database":true`)
}
