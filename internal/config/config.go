// Package config loads the server configuration from environment variables,
// optionally seeded from an env file discovered at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvFileName is looked up in the working directory, next to the executable,
// and under %APPDATA%/Hermes. A plain .env in the working directory is the
// backwards-compatible fallback.
const EnvFileName = ".env.hermes-server"

// Config holds every runtime setting of the server.
type Config struct {
	Host string
	Port int

	ADOOrganizationURL    string
	ADOPAT                string
	ADOWebhookSecret      string
	ADOAPIVersion         string
	ADOInsecureSkipVerify bool

	DataDir        string
	LogMaxBytes    int64
	LogBackupCount int

	ServerPublicURL  string
	IdentityCacheTTL time.Duration
	LogLevel         string
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadEnvFile finds and loads the env file, returning the path loaded or ""
// when none exists. A missing file is not an error; variables already set in
// the environment always win.
func LoadEnvFile() (string, error) {
	path := findEnvFile()
	if path == "" {
		return "", nil
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return path, nil
}

func findEnvFile() string {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, EnvFileName))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), EnvFileName))
	}
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		candidates = append(candidates, filepath.Join(appdata, "Hermes", EnvFileName))
	}
	candidates = append(candidates, ".env")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything unset. Call LoadEnvFile first so env-file values are visible.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Host:               EnvOrDefault("HOST", "0.0.0.0"),
		ADOOrganizationURL: EnvOrDefault("ADO_ORGANIZATION_URL", ""),
		ADOPAT:             EnvOrDefault("ADO_PAT", ""),
		ADOWebhookSecret:   EnvOrDefault("ADO_WEBHOOK_SECRET", ""),
		ADOAPIVersion:      EnvOrDefault("ADO_API_VERSION", "5.1-preview"),
		DataDir:            EnvOrDefault("DATA_DIR", "data"),
		ServerPublicURL:    EnvOrDefault("SERVER_PUBLIC_URL", "http://localhost:8000"),
		LogLevel:           EnvOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Port, err = envInt("PORT", 8000); err != nil {
		return nil, err
	}
	maxBytes, err := envInt("LOG_MAX_BYTES", 5*1024*1024)
	if err != nil {
		return nil, err
	}
	cfg.LogMaxBytes = int64(maxBytes)
	if cfg.LogBackupCount, err = envInt("LOG_BACKUP_COUNT", 3); err != nil {
		return nil, err
	}
	if cfg.ADOInsecureSkipVerify, err = envBool("ADO_INSECURE_SKIP_VERIFY", false); err != nil {
		return nil, err
	}
	if cfg.IdentityCacheTTL, err = envDuration("IDENTITY_CACHE_TTL", 0); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvOrDefault returns the value of the environment variable, or def when
// unset or empty.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

// envDuration accepts Go duration strings ("30m") and, for convenience, bare
// integers interpreted as seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
