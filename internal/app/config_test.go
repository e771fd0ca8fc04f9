package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Addr:       defaultAddr,
		ProviderID: "user-search",
		Store:      StoreConfig{Driver: DriverPostgres, DatabaseURL: "postgres://localhost/identity"},
		Auth:       AuthConfig{Mode: AuthOIDC, IssuerURL: "https://id.example.org", VerifierCacheSize: 16},
		RateLimit:  RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Valid", func(*Config) {}, ""},
		{"NoDatabaseURL", func(c *Config) { c.Store.DatabaseURL = "" }, "database URL is required"},
		{"MemoryWithSeeds", func(c *Config) {
			c.Store = StoreConfig{Driver: DriverMemory, SeedFiles: []string{"demo-realm.json"}}
		}, ""},
		{"MemoryWithoutSeeds", func(c *Config) { c.Store = StoreConfig{Driver: DriverMemory} }, "seed file"},
		{"UnknownDriver", func(c *Config) { c.Store.Driver = "ldap" }, `unknown store driver "ldap"`},
		{"NoIssuer", func(c *Config) { c.Auth.IssuerURL = "" }, "issuer URL is required"},
		{"StaticHMAC", func(c *Config) { c.Auth.Mode, c.Auth.HMACSecret = AuthStatic, "s3cret" }, ""},
		{"StaticKeyFile", func(c *Config) { c.Auth.Mode, c.Auth.PublicKeyFile = AuthStatic, "key.pem" }, ""},
		{"StaticNoKey", func(c *Config) { c.Auth.Mode = AuthStatic }, "exactly one"},
		{"StaticBothKeys", func(c *Config) {
			c.Auth.Mode, c.Auth.HMACSecret, c.Auth.PublicKeyFile = AuthStatic, "s3cret", "key.pem"
		}, "exactly one"},
		{"UnknownMode", func(c *Config) { c.Auth.Mode = "basic" }, `unknown auth mode "basic"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/identity")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/identity", cfg.Store.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:7000", Store: StoreConfig{DatabaseURL: "postgres://explicit"}}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit", cfg.Store.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr, "explicit address wins")
}
