package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Token verification modes.
const (
	AuthOIDC   = "oidc"
	AuthStatic = "static"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (USER_SEARCH_ prefix), flags, or YAML config files.
type Config struct {
	Addr       string `default:"0.0.0.0:8080" usage:"API server listen address"`
	ProviderID string `default:"user-search" usage:"Path segment the search routes are mounted under" flag:"provider-id"`
	Store      StoreConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Graceful   GracefulConfig
}

// StoreConfig selects and configures the identity store.
type StoreConfig struct {
	Driver      string   `default:"postgres" usage:"Identity store: postgres or memory"`
	DatabaseURL string   `env:"DATABASE_URL" usage:"PostgreSQL connection URL (USER_SEARCH_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SeedFiles   []string `env:"SEED_FILES" usage:"Realm export files served by the memory store" flag:"seed-files"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Mode              string        `default:"oidc" usage:"Token verification: oidc (realm JWKS) or static (configured key)"`
	IssuerURL         string        `env:"ISSUER_URL" usage:"Identity host base URL; realm issuers are <url>/realms/<realm>" flag:"issuer-url"`
	Audience          string        `usage:"Required token audience, empty to skip the check"`
	VerifierCacheSize int           `default:"16" usage:"Realms whose OIDC verifiers are kept" flag:"verifier-cache-size"`
	HMACSecret        string        `env:"HMAC_SECRET" usage:"HS256 secret for static mode" flag:"hmac-secret"`
	PublicKeyFile     string        `env:"PUBLIC_KEY_FILE" usage:"PEM RSA public key for static mode" flag:"public-key-file"`
	Leeway            time.Duration `default:"30s" usage:"Allowed clock skew for static mode"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max     int           `default:"100" usage:"Max requests per window, 0 disables"`
	Window  time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Clients int           `default:"10000" usage:"Max tracked clients"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "USER_SEARCH",
		Files:     []string{"config.yaml", "/etc/user-search/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected store and auth mode are configured.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required: set USER_SEARCH_STORE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
		if len(c.Store.SeedFiles) == 0 {
			return errors.New("memory store needs at least one seed file: set USER_SEARCH_STORE_SEED_FILES")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Auth.IssuerURL == "" {
		return errors.New("issuer URL is required: set USER_SEARCH_AUTH_ISSUER_URL")
	}
	switch c.Auth.Mode {
	case AuthOIDC:
	case AuthStatic:
		if (c.Auth.HMACSecret == "") == (c.Auth.PublicKeyFile == "") {
			return errors.New("static auth needs exactly one of an HMAC secret or a public key file")
		}
	default:
		return errors.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT onto the
// USER_SEARCH_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		c.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
