package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSecret = "CHANGE_ME_PRODUCTION_JWT_SECRET"

type Config struct {
	Env        string
	ListenAddr string
	LogLevel   string

	DBDriver          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	JWTIssuer        string
	JWTAudience      string

	BcryptRounds     int
	MaxLoginAttempts int
	LockDuration     time.Duration

	RateLimitWindow       time.Duration
	RateLimitMaxRequests  int
	LoginRateLimitMax     int
	RegisterRateLimitMax  int
	RefreshRateLimitMax   int
	BruteForceMaxAttempts int
	BruteForceWindow      time.Duration
	BruteForceBackend     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RefreshCookieName  string
	RefreshCookiePath  string
	CookieSecure       bool
	TrustProxy         bool
	CORSAllowedOrigins []string

	StrictTokenCheck bool
	AllowAdminSignup bool

	CleanupInterval       time.Duration
	RevokedTokenRetention time.Duration
	AuditRetention        time.Duration
	NotifySender          string
	NotifyFrom            string
	SMTPHost              string
	SMTPPort              int
	SMTPTimeout           time.Duration

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	BootstrapAdminName     string
}

func Load() (Config, error) {
	appEnv := strings.ToLower(env("APP_ENV", "development"))
	cfg := Config{
		Env:                      appEnv,
		ListenAddr:               env("LISTEN_ADDR", ":5000"),
		LogLevel:                 strings.ToLower(env("LOG_LEVEL", "info")),
		DBDriver:                 strings.ToLower(env("DB_DRIVER", "sqlite")),
		DBDSN:                    env("DB_DSN", "./data/auth.db"),
		DBMaxOpenConns:           envInt("DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		JWTAccessSecret:          env("JWT_ACCESS_SECRET", defaultSecret),
		JWTRefreshSecret:         env("JWT_REFRESH_SECRET", defaultSecret),
		JWTIssuer:                env("JWT_ISSUER", "healthcare-platform"),
		JWTAudience:              env("JWT_AUDIENCE", "healthcare-api"),
		BcryptRounds:             envInt("BCRYPT_ROUNDS", 12),
		MaxLoginAttempts:         envInt("MAX_LOGIN_ATTEMPTS", 5),
		LockDuration:             time.Duration(envInt("LOCK_TIME", 30)) * time.Minute,
		RateLimitWindow:          time.Duration(envInt("RATE_LIMIT_WINDOW", 15)) * time.Minute,
		RateLimitMaxRequests:     envInt("RATE_LIMIT_MAX_REQUESTS", 100),
		LoginRateLimitMax:        envInt("LOGIN_RATE_LIMIT_MAX", 10),
		RegisterRateLimitMax:     envInt("REGISTER_RATE_LIMIT_MAX", 3),
		RefreshRateLimitMax:      envInt("REFRESH_RATE_LIMIT_MAX", 20),
		BruteForceMaxAttempts:    envInt("BRUTE_FORCE_MAX_ATTEMPTS", 10),
		BruteForceWindow:         time.Duration(envInt("BRUTE_FORCE_WINDOW_MIN", 15)) * time.Minute,
		BruteForceBackend:        strings.ToLower(env("BRUTE_FORCE_BACKEND", "memory")),
		RedisAddr:                env("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:            env("REDIS_PASSWORD", ""),
		RedisDB:                  envInt("REDIS_DB", 0),
		RefreshCookieName:        env("REFRESH_COOKIE_NAME", "refreshToken"),
		RefreshCookiePath:        env("REFRESH_COOKIE_PATH", "/api/auth"),
		CookieSecure:             envBool("COOKIE_SECURE", appEnv == "production"),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		StrictTokenCheck:         envBool("STRICT_TOKEN_CHECK", false),
		AllowAdminSignup:         envBool("ALLOW_ADMIN_SIGNUP", false),
		CleanupInterval:          time.Duration(envInt("CLEANUP_INTERVAL_MIN", 60)) * time.Minute,
		RevokedTokenRetention:    time.Duration(envInt("REVOKED_TOKEN_RETENTION_DAYS", 30)) * 24 * time.Hour,
		AuditRetention:           time.Duration(envInt("AUDIT_RETENTION_DAYS", 2555)) * 24 * time.Hour,
		NotifySender:             strings.ToLower(env("NOTIFY_SENDER", "log")),
		NotifyFrom:               env("NOTIFY_FROM", "security@clinic.local"),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPTimeout:              time.Duration(envInt("SMTP_TIMEOUT_SEC", 10)) * time.Second,
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		BootstrapAdminName:       env("BOOTSTRAP_ADMIN_NAME", "Administrator"),
	}

	var err error
	if cfg.JWTAccessTTL, err = envDuration("JWT_ACCESS_EXPIRY", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.JWTRefreshTTL, err = envDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour); err != nil {
		return Config{}, err
	}

	switch cfg.Env {
	case "development", "test", "production":
	default:
		return Config{}, fmt.Errorf("APP_ENV must be one of: development, test, production")
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	for name, secret := range map[string]string{"JWT_ACCESS_SECRET": cfg.JWTAccessSecret, "JWT_REFRESH_SECRET": cfg.JWTRefreshSecret} {
		if strings.TrimSpace(secret) == "" || secret == defaultSecret || len(secret) < 32 {
			return Config{}, fmt.Errorf("%s must be set to a strong non-default value (>=32 chars)", name)
		}
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return Config{}, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if cfg.JWTAccessTTL <= 0 || cfg.JWTRefreshTTL <= cfg.JWTAccessTTL {
		return Config{}, fmt.Errorf("token lifetimes must be positive and refresh must outlive access")
	}
	if cfg.BcryptRounds < 10 || cfg.BcryptRounds > 31 {
		return Config{}, fmt.Errorf("BCRYPT_ROUNDS must be between 10 and 31")
	}
	if cfg.MaxLoginAttempts < 2 || cfg.LockDuration <= 0 {
		return Config{}, fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 2 and LOCK_TIME positive")
	}
	if cfg.RateLimitWindow <= 0 || cfg.RateLimitMaxRequests <= 0 || cfg.LoginRateLimitMax <= 0 ||
		cfg.RegisterRateLimitMax <= 0 || cfg.RefreshRateLimitMax <= 0 {
		return Config{}, fmt.Errorf("rate limits must be positive")
	}
	if cfg.BruteForceMaxAttempts <= 0 || cfg.BruteForceWindow <= 0 {
		return Config{}, fmt.Errorf("brute force settings must be positive")
	}
	switch cfg.BruteForceBackend {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("BRUTE_FORCE_BACKEND must be one of: memory, redis")
	}
	switch cfg.NotifySender {
	case "log", "smtp":
	default:
		return Config{}, fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp")
	}
	if cfg.SMTPTimeout <= 0 {
		return Config{}, fmt.Errorf("SMTP_TIMEOUT_SEC must be positive")
	}
	if cfg.CleanupInterval <= 0 {
		return Config{}, fmt.Errorf("CLEANUP_INTERVAL_MIN must be positive")
	}
	if cfg.IsProduction() && !cfg.CookieSecure {
		return Config{}, fmt.Errorf("COOKIE_SECURE=false is not allowed in production")
	}
	return cfg, nil
}

func (c Config) IsProduction() bool { return c.Env == "production" }

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envDuration accepts Go durations plus a whole-day suffix ("7d").
func envDuration(k string, d time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	dur, err := ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return dur, nil
}

func ParseDuration(v string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day duration %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}
