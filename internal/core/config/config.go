// Package config loads the closed set of environment/config knobs the
// system needs (spec §6): database URL, upstream base URL and credentials,
// token cache path, scheduler/browser concurrency defaults, the default
// min_providers and rate-limit rps, and log verbosity.
//
// Upstream credentials may optionally come from a HashiCorp Vault KV2
// secret instead of the environment, mirroring the teacher's
// go-core/config.SecretManager. Vault is strictly optional: when
// VAULT_ADDR is unset the process reads the same keys directly from the
// environment, so the system runs in tests/dev without a Vault instance.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/vault/api"
)

// Config is the fully-resolved, closed knob set.
type Config struct {
	DatabaseURL string

	UpstreamBaseURL  string
	UpstreamUsername string
	UpstreamPassword string

	TokenCachePath string

	SchedulerConcurrency        int
	SchedulerBrowserConcurrency int
	DefaultMinProviders         int
	DefaultRateLimitRPS         float64

	LogLevel string

	HTTPAddr string

	NATSURL string

	OTELEndpoint string
}

// Load resolves Config from the environment, applying documented defaults,
// then overlays upstream credentials from Vault if VAULT_ADDR is set.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:                 getenv("DATABASE_URL", "postgres://localhost:5432/pharma_prices"),
		UpstreamBaseURL:             getenv("UPSTREAM_BASE_URL", ""),
		UpstreamUsername:            getenv("UPSTREAM_USERNAME", ""),
		UpstreamPassword:            getenv("UPSTREAM_PASSWORD", ""),
		TokenCachePath:              getenv("TOKEN_CACHE_PATH", "./.cache/upstream-token.json"),
		SchedulerConcurrency:        getenvInt("SCHEDULER_CONCURRENCY", 3),
		SchedulerBrowserConcurrency: getenvInt("SCHEDULER_BROWSER_CONCURRENCY", 2),
		DefaultMinProviders:         getenvInt("DEFAULT_MIN_PROVIDERS", 5),
		DefaultRateLimitRPS:         getenvFloat("DEFAULT_RATE_LIMIT_RPS", 5),
		LogLevel:                    getenv("LOG_LEVEL", "info"),
		HTTPAddr:                    getenv("HTTP_ADDR", ":8080"),
		NATSURL:                     getenv("NATS_URL", ""),
		OTELEndpoint:                getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		if err := overlayFromVault(&cfg, vaultAddr); err != nil {
			return Config{}, fmt.Errorf("config: vault overlay: %w", err)
		}
	}

	return cfg, nil
}

// overlayFromVault reads upstream credentials and the database URL from a
// Vault KV2 secret, overwriting whatever the environment already supplied.
// A missing key in the secret leaves the environment-derived value in
// place, rather than erroring, so a partial Vault secret still works.
func overlayFromVault(cfg *Config, vaultAddr string) error {
	token := os.Getenv("VAULT_TOKEN")
	secretPath := getenv("VAULT_SECRET_PATH", "secret/data/pharma-price-discovery")

	mgr, err := NewSecretManager(vaultAddr, token)
	if err != nil {
		return err
	}

	data, err := mgr.GetKV2(secretPath)
	if err != nil {
		return err
	}

	if v, ok := data["UPSTREAM_BASE_URL"].(string); ok && v != "" {
		cfg.UpstreamBaseURL = v
	}
	if v, ok := data["UPSTREAM_USERNAME"].(string); ok && v != "" {
		cfg.UpstreamUsername = v
	}
	if v, ok := data["UPSTREAM_PASSWORD"].(string); ok && v != "" {
		cfg.UpstreamPassword = v
	}
	if v, ok := data["DATABASE_URL"].(string); ok && v != "" {
		cfg.DatabaseURL = v
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// SecretManager wraps the Vault API client for reading secrets, following
// the teacher's go-core/config.SecretManager shape.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at address and
// authenticated with token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	vcfg := api.DefaultConfig()
	vcfg.Address = address

	client, err := api.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at path and returns the raw data map. For KV v2
// backends the caller must unwrap the nested "data" key (see GetKV2).
func (s *SecretManager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}
