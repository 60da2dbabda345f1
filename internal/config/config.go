package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string
	Env  string // development|production

	Log      string
	LogLevel string
	LogDir   string

	StorageDriver string // postgres|sqlite|memory
	DbHost        string
	DbPort        string
	DbUser        string
	DbPass        string
	DbName        string
	DbSSLMode     string
	SQLitePath    string
	AutoMigrate   bool

	LedgerDriver  string // sql|redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	RefreshRotation  bool
	BcryptCost       int
	PasswordResetTTL time.Duration
	SweepInterval    time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	EmailWorkers int

	AppName     string
	FrontendURL string

	RateLimit          int
	RateWindow         time.Duration
	LoginRateLimit     int
	LoginRateWindow    time.Duration
	ForgotRateLimit    int
	ForgotRateWindow   time.Duration
	TrustProxy         bool
	CORSAllowedOrigins []string
}

// LoadConfig loads .env, an optional YAML file (CONFIG_FILE) and the environment.
// Environment variables win over the file, the file wins over defaults.
// Nothing is logged here so the logger can be built from the result.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	fileVals, err := readFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	def := func(key, d string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		if v := strings.TrimSpace(fileVals[key]); v != "" {
			return v
		}
		return d
	}

	p := &parser{}
	cfg := &Config{
		Port: def("PORT", "3000"),
		Env:  strings.ToLower(def("NODE_ENV", def("ENV", "production"))),

		Log:      def("LOG", ""),
		LogLevel: strings.ToLower(def("LOGLEVEL", "info")),
		LogDir:   def("LOG_DIR", "logs"),

		StorageDriver: strings.ToLower(def("STORAGE_DRIVER", "postgres")),
		DbHost:        def("DB_HOST", "localhost"),
		DbPort:        def("DB_PORT", "5432"),
		DbUser:        def("DB_USER", ""),
		DbPass:        def("DB_PASSWORD", ""),
		DbName:        def("DB_NAME", "wattmate_db"),
		DbSSLMode:     def("DB_SSLMODE", "disable"),
		SQLitePath:    def("SQLITE_PATH", "wattmate.db"),
		AutoMigrate:   p.bool("AUTO_MIGRATE", def("AUTO_MIGRATE", "true")),

		LedgerDriver:  strings.ToLower(def("LEDGER_DRIVER", "sql")),
		RedisAddr:     def("REDIS_ADDR", "localhost:6379"),
		RedisPassword: def("REDIS_PASSWORD", ""),
		RedisDB:       p.int("REDIS_DB", def("REDIS_DB", "0")),

		JWTSecret:        def("JWT_SECRET", ""),
		JWTRefreshSecret: def("JWT_REFRESH_SECRET", ""),
		AccessTokenTTL:   p.duration("JWT_EXPIRE", def("JWT_EXPIRE", "15m")),
		RefreshTokenTTL:  p.duration("JWT_REFRESH_EXPIRE", def("JWT_REFRESH_EXPIRE", "168h")),
		RefreshRotation:  p.bool("REFRESH_ROTATION", def("REFRESH_ROTATION", "false")),
		BcryptCost:       p.int("BCRYPT_COST", def("BCRYPT_COST", "12")),
		PasswordResetTTL: p.duration("PASSWORD_RESET_TTL", def("PASSWORD_RESET_TTL", "1h")),
		SweepInterval:    p.duration("SWEEP_INTERVAL", def("SWEEP_INTERVAL", "1h")),

		SMTPHost:     def("EMAIL_HOST", def("SMTP_HOST", "")),
		SMTPPort:     def("EMAIL_PORT", def("SMTP_PORT", "587")),
		SMTPUser:     def("EMAIL_USER", def("SMTP_USER", "")),
		SMTPPassword: def("EMAIL_PASS", def("SMTP_PASSWORD", "")),
		EmailFrom:    def("EMAIL_FROM", ""),
		EmailWorkers: p.int("EMAIL_WORKERS", def("EMAIL_WORKERS", "3")),

		AppName:     def("APP_NAME", "WattMate"),
		FrontendURL: strings.TrimRight(def("FRONTEND_URL", "http://localhost:8080"), "/"),

		RateLimit:          p.int("RATE_LIMIT_MAX_REQUESTS", def("RATE_LIMIT_MAX_REQUESTS", "100")),
		RateWindow:         time.Duration(p.int("RATE_LIMIT_WINDOW_MS", def("RATE_LIMIT_WINDOW_MS", "900000"))) * time.Millisecond,
		LoginRateLimit:     p.int("RATE_LIMIT_LOGIN_MAX", def("RATE_LIMIT_LOGIN_MAX", "5")),
		LoginRateWindow:    p.duration("RATE_LIMIT_LOGIN_WINDOW", def("RATE_LIMIT_LOGIN_WINDOW", "15m")),
		ForgotRateLimit:    p.int("RATE_LIMIT_FORGOT_MAX", def("RATE_LIMIT_FORGOT_MAX", "3")),
		ForgotRateWindow:   p.duration("RATE_LIMIT_FORGOT_WINDOW", def("RATE_LIMIT_FORGOT_WINDOW", "1h")),
		TrustProxy:         p.bool("TRUST_PROXY", def("TRUST_PROXY", "false")),
		CORSAllowedOrigins: splitList(def("CORS_ALLOWED_ORIGINS", "*")),
	}
	if cfg.EmailFrom == "" {
		cfg.EmailFrom = cfg.SMTPUser
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Validate returns warnings and a fatal error when the service cannot run safely.
func (c *Config) Validate() (warnings []string, err error) {
	if strings.TrimSpace(c.JWTSecret) == "" || strings.TrimSpace(c.JWTRefreshSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must both be set")
	}
	// one leaked key must not be able to forge the other token class
	if c.JWTSecret == c.JWTRefreshSecret {
		return nil, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.PasswordResetTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		warnings = append(warnings, "JWT_EXPIRE is not shorter than JWT_REFRESH_EXPIRE")
	}

	switch c.StorageDriver {
	case "postgres":
		if c.DbHost == "" || c.DbUser == "" || c.DbName == "" {
			return nil, fmt.Errorf("incomplete DB config (DB_HOST/DB_USER/DB_NAME)")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return nil, fmt.Errorf("SQLITE_PATH is empty")
		}
	case "memory":
		warnings = append(warnings, "STORAGE_DRIVER=memory keeps all data in process memory")
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.LedgerDriver {
	case "sql":
	case "redis":
		if c.RedisAddr == "" {
			return nil, fmt.Errorf("LEDGER_DRIVER=redis requires REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}

	if c.SMTPHost == "" || c.SMTPUser == "" {
		warnings = append(warnings, "SMTP is not fully configured, reset emails will be dropped")
	}
	if c.SweepInterval <= 0 {
		warnings = append(warnings, "SWEEP_INTERVAL is not positive, expired refresh tokens are never swept")
	}
	return warnings, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// GetDSN returns the full DSN, password included.
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DbUser, c.DbPass, c.DbHost, c.DbPort, c.DbName, c.DbSSLMode,
	)
}

// GetDSNSafe masks the password, for logs.
func (c *Config) GetDSNSafe() string {
	return fmt.Sprintf(
		"postgres://%s:***@%s:%s/%s?sslmode=%s",
		c.DbUser, c.DbHost, c.DbPort, c.DbName, c.DbSSLMode,
	)
}

func readFile(path string) (map[string]string, error) {
	vals := map[string]string{}
	if strings.TrimSpace(path) == "" {
		return vals, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return vals, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first conversion error so LoadConfig can stay a flat literal.
type parser struct {
	err error
}

func (p *parser) duration(key, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d
}

func (p *parser) int(key, v string) int {
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n
}

func (p *parser) bool(key, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b
}
