package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the sync service.
type Config struct {
	Environment    string
	HTTPPort       int
	LogLevel       string
	LogFormat      string
	DataStore      string
	DatabaseURL    string
	AllowedOrigins []string

	WebhookSecret    string
	WebhookTolerance time.Duration
	WebhookRateLimit float64
	WebhookRateBurst int

	DedupStore string
	RedisURL   string
	DedupTTL   time.Duration

	NATSURL string

	CreateOnUpdate bool

	SessionCookieName string
	SignInPath        string
	SignInURL         string
	PublicRoutes      []string
	PublicRoutesFile  string

	TokenIssuer   string
	TokenAudience string
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/identitysync_database_url")
	if err != nil {
		return Config{}, err
	}

	webhookSecret, err := getEnvOrFile("WEBHOOK_SECRET", "/run/secrets/identitysync_webhook_secret")
	if err != nil {
		return Config{}, err
	}

	redisURL, err := getEnvOrFile("REDIS_URL", "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		DataStore:         strings.ToLower(getEnv("DATA_STORE", "memory")),
		DatabaseURL:       databaseURL,
		AllowedOrigins:    parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		WebhookSecret:     strings.TrimSpace(webhookSecret),
		DedupStore:        strings.ToLower(getEnv("DEDUP_STORE", "memory")),
		RedisURL:          strings.TrimSpace(redisURL),
		NATSURL:           getEnv("NATS_URL", ""),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "__session"),
		SignInPath:        getEnv("SIGN_IN_PATH", "/auth"),
		SignInURL:         getEnv("SIGN_IN_URL", ""),
		PublicRoutes:      parseCSV(getEnv("PUBLIC_ROUTES", "")),
		PublicRoutesFile:  getEnv("PUBLIC_ROUTES_FILE", ""),
		TokenIssuer:       strings.TrimRight(getEnv("TOKEN_ISSUER", ""), "/"),
		TokenAudience:     getEnv("TOKEN_AUDIENCE", "datastore"),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	if cfg.WebhookTolerance, err = getDuration("WEBHOOK_TOLERANCE", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DedupTTL, err = getDuration("DEDUP_TTL", 72*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.WebhookRateLimit, err = getFloat("WEBHOOK_RATE_LIMIT", 20); err != nil {
		return Config{}, err
	}
	if cfg.WebhookRateBurst, err = getInt("WEBHOOK_RATE_BURST", 40); err != nil {
		return Config{}, err
	}
	if cfg.CreateOnUpdate, err = getBool("RECONCILE_CREATE_ON_UPDATE", false); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required")
	}

	switch c.DataStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return fmt.Errorf("unsupported DATA_STORE %q", c.DataStore)
	}

	switch c.DedupStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("DEDUP_STORE is redis but REDIS_URL is not set")
		}
	default:
		return fmt.Errorf("unsupported DEDUP_STORE %q", c.DedupStore)
	}

	if c.WebhookRateLimit <= 0 || c.WebhookRateBurst <= 0 {
		return errors.New("WEBHOOK_RATE_LIMIT and WEBHOOK_RATE_BURST must be positive")
	}

	if !strings.HasPrefix(c.SignInPath, "/") {
		return fmt.Errorf("SIGN_IN_PATH must be an absolute path, got %q", c.SignInPath)
	}
	if c.SessionCookieName == "" {
		return errors.New("SESSION_COOKIE_NAME must not be empty")
	}

	if !c.IsDevelopment() {
		for _, origin := range c.AllowedOrigins {
			if origin == "*" {
				return errors.New("ALLOWED_ORIGINS must not contain * outside development")
			}
		}
	}

	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repository should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// IsDevelopment reports whether APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// APIAuthEnabled reports whether bearer-authenticated API routes are served.
func (c Config) APIAuthEnabled() bool {
	return c.TokenIssuer != ""
}

// ClientConfig configures the session smoke client.
type ClientConfig struct {
	LogLevel      string
	LogFormat     string
	IdPAPIURL     string
	IdPSecretKey  string
	IdPSessionID  string
	TokenTemplate string
	BackendURL    string
}

// LoadClient reads the client configuration from environment variables.
func LoadClient() (ClientConfig, error) {
	secretKey, err := getEnvOrFile("IDP_SECRET_KEY", "/run/secrets/identitysync_idp_secret_key")
	if err != nil {
		return ClientConfig{}, err
	}

	cfg := ClientConfig{
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		IdPAPIURL:     getEnv("IDP_API_URL", "https://api.clerk.com"),
		IdPSecretKey:  strings.TrimSpace(secretKey),
		IdPSessionID:  getEnv("IDP_SESSION_ID", ""),
		TokenTemplate: getEnv("TOKEN_TEMPLATE", "datastore"),
		BackendURL:    getEnv("BACKEND_URL", "http://localhost:8080"),
	}

	if cfg.IdPSecretKey == "" {
		return ClientConfig{}, errors.New("IDP_SECRET_KEY is required")
	}
	if cfg.IdPSessionID == "" {
		return ClientConfig{}, errors.New("IDP_SESSION_ID is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, value)
	}
	return d, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
