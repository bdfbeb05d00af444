package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendGitHub = "github"
	BackendMySQL  = "mysql"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Port         string
	StoreBackend string

	GitHubToken  string
	GitHubRepo   string
	GitHubBranch string
	GitHubAPIURL string

	DBDSN      string
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	JWTSecret string
	TokenTTL  time.Duration

	AdminUsername string
	AdminPassword string

	LedgerMaxRetries   int
	LedgerRetryBackoff time.Duration
	LedgerOpTimeout    time.Duration

	CORSOrigin      string
	MaintenanceMode bool
	LogLevel        string

	// DotEnvLoaded reports whether a .env file was read.
	DotEnvLoaded bool
}

// Load reads .env (or the given files) into the environment and builds the
// config from it. Variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	loaded := godotenv.Load(files...) == nil

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.DotEnvLoaded = loaded
	return cfg, nil
}

// FromEnv builds the config from the process environment only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),

		GitHubToken:  getEnv("GITHUB_TOKEN", ""),
		GitHubRepo:   getEnv("GITHUB_REPO", ""),
		GitHubBranch: getEnv("GITHUB_BRANCH", "main"),
		GitHubAPIURL: getEnv("GITHUB_API_URL", ""),

		DBDSN:      getEnv("DB_DSN_PRIMARY", ""),
		SQLitePath: getEnv("SQLITE_PATH", "kidwallet.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0, &errs),
		RedisPrefix:   getEnv("REDIS_PREFIX", "kidwallet:"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getDuration("TOKEN_TTL", 72*time.Hour, &errs),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		LedgerMaxRetries:   getInt("LEDGER_MAX_RETRIES", 3, &errs),
		LedgerRetryBackoff: getDuration("LEDGER_RETRY_BACKOFF", 50*time.Millisecond, &errs),
		LedgerOpTimeout:    getDuration("LEDGER_OP_TIMEOUT", 15*time.Second, &errs),

		CORSOrigin:      getEnv("CORS_ORIGIN", "http://localhost:5173"),
		MaintenanceMode: getBool("MAINTENANCE_MODE", false, &errs),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.LedgerMaxRetries < 0 {
		errs = append(errs, errors.New("LEDGER_MAX_RETRIES must not be negative"))
	}

	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendGitHub:
		if c.GitHubToken == "" || c.GitHubRepo == "" {
			errs = append(errs, errors.New("GITHUB_TOKEN and GITHUB_REPO are required for the github backend"))
		}
	case BackendMySQL:
		if c.DBDSN == "" {
			errs = append(errs, errors.New("DB_DSN_PRIMARY is required for the mysql backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	return errs
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func getBool(key string, fallback bool, errs *[]error) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
