package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// 資格情報ストアの種別
const (
	CredentialStoreFile     = "file"
	CredentialStorePostgres = "postgres"
	CredentialStoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL       string
	RequestTimeout   time.Duration
	BackendRateLimit int // req/min

	// Credential
	CredentialStore string
	CredentialPath  string
	DatabaseURL     string

	// Poll
	ScanPollInterval time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitGeneral   int
	RateLimitScanStart int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 設定値が矛盾している場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BackendURL = strings.TrimRight(getEnvString("BACKEND_URL", "http://localhost:8000/api/v1"), "/")
	if err := validateBackendURL(cfg.BackendURL); err != nil {
		return nil, err
	}

	cfg.CredentialStore = strings.ToLower(getEnvString("CREDENTIAL_STORE", CredentialStoreFile))
	switch cfg.CredentialStore {
	case CredentialStoreFile, CredentialStorePostgres, CredentialStoreMemory:
	default:
		return nil, fmt.Errorf("unsupported CREDENTIAL_STORE: %q (allowed: file, postgres, memory)", cfg.CredentialStore)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.CredentialStore == CredentialStorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	cfg.CredentialPath = getEnvString("CREDENTIAL_PATH", defaultCredentialPath())

	// Optional fields with defaults
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 10*time.Second)
	cfg.BackendRateLimit = getEnvInt("BACKEND_RATE_LIMIT", 600)
	cfg.ScanPollInterval = getEnvDuration("SCAN_POLL_INTERVAL", 5*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:3000")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitScanStart = getEnvInt("RATE_LIMIT_SCAN_START", 10)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if cfg.ScanPollInterval <= 0 {
		cfg.ScanPollInterval = 5 * time.Second
	}

	return cfg, nil
}

// validateBackendURL はバックエンドのベースURLがhttp/httpsの絶対URLであることを検証する。
func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid BACKEND_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid BACKEND_URL scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL: missing host")
	}
	return nil
}

// defaultCredentialPath はユーザー設定ディレクトリ配下の資格情報ファイルパスを返す。
func defaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cortexsync", "credentials.json")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
