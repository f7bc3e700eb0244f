package config

import (
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", "access_secret_that_is_long_enough_1234567")
	t.Setenv("JWT_REFRESH_SECRET", "refresh_secret_that_is_long_enough_7654321")
}

func TestLoadRejectsDefaultSecret(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "refresh_secret_that_is_long_enough_7654321")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected Load to fail with default access secret")
	}
}

func TestLoadRejectsSharedSecret(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "the_same_secret_for_both_token_kinds_123")
	t.Setenv("JWT_REFRESH_SECRET", "the_same_secret_for_both_token_kinds_123")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail when access and refresh secrets match")
	}
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTAccessTTL != 15*time.Minute || cfg.JWTRefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected ttls: %s %s", cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	}
	if cfg.BcryptRounds != 12 || cfg.MaxLoginAttempts != 5 || cfg.LockDuration != 30*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg)
	}
	if cfg.RefreshCookieName != "refreshToken" || cfg.RefreshCookiePath != "/api/auth" {
		t.Fatalf("unexpected cookie defaults: %s %s", cfg.RefreshCookieName, cfg.RefreshCookiePath)
	}
	if cfg.CookieSecure {
		t.Fatalf("cookie should not be secure outside production by default")
	}
	if cfg.AuditRetention != 2555*24*time.Hour {
		t.Fatalf("unexpected audit retention: %s", cfg.AuditRetention)
	}
}

func TestLoadBcryptFloor(t *testing.T) {
	setSecrets(t)
	t.Setenv("BCRYPT_ROUNDS", "8")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to reject bcrypt cost below 10")
	}
}

func TestLoadProductionSecureCookie(t *testing.T) {
	setSecrets(t)
	t.Setenv("APP_ENV", "production")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.CookieSecure || !cfg.IsProduction() {
		t.Fatalf("expected secure cookies in production")
	}
	t.Setenv("COOKIE_SECURE", "false")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to reject insecure cookies in production")
	}
}

func TestLoadDurations(t *testing.T) {
	setSecrets(t)
	t.Setenv("JWT_ACCESS_EXPIRY", "5m")
	t.Setenv("JWT_REFRESH_EXPIRY", "30d")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTAccessTTL != 5*time.Minute || cfg.JWTRefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected ttls: %s %s", cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	}
	t.Setenv("JWT_REFRESH_EXPIRY", "xd")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid duration to fail")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	setSecrets(t)
	t.Setenv("DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestLoadRejectsSingleAttemptLockout(t *testing.T) {
	setSecrets(t)
	t.Setenv("MAX_LOGIN_ATTEMPTS", "1")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to reject MAX_LOGIN_ATTEMPTS=1")
	}
}

func TestLoadSMTPTimeout(t *testing.T) {
	setSecrets(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SMTPTimeout != 10*time.Second {
		t.Fatalf("unexpected smtp timeout: %s", cfg.SMTPTimeout)
	}
	t.Setenv("SMTP_TIMEOUT_SEC", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to reject SMTP_TIMEOUT_SEC=0")
	}
}
