package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures service-level configuration. Values come from the
// environment so main stays lean; defaults suit local development.
type Config struct {
	Addr        string
	PostgresDSN string
	Redis       RedisConfig

	// Issuer identity baked into every credential and status list.
	IssuerID      string
	IssuerBaseURL string

	// Signing backend. When SigningServiceURL is empty the service runs with
	// the local development signer.
	SigningServiceURL string
	SigningKeyAppID   string
	SigningKeyRefID   string

	// Signature parameters for issuer-signed documents (status list VCs and
	// the default for credential configurations that leave them unset).
	SignAlgorithm      string
	CryptoSuite        string
	VerificationMethod string

	// Token introspection endpoint of the authorization server. Empty runs
	// the static development verifier.
	IntrospectionURL          string
	IntrospectionClientID     string
	IntrospectionClientSecret string

	// MetadataFile is a JSON file of credential configurations served by the
	// static source when no configuration service is wired.
	MetadataFile     string
	MetadataCacheTTL time.Duration

	Nonce         NonceConfig
	StatusList    StatusListConfig
	Consolidation ConsolidationConfig
}

// RedisConfig mirrors the go-redis options we override.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NonceConfig controls c_nonce issuance.
type NonceConfig struct {
	TTL time.Duration
}

// StatusListConfig controls bitstring status list allocation.
type StatusListConfig struct {
	// CapacityBits is the fixed size of new lists. The Bitstring Status List
	// spec requires at least 131072 bits.
	CapacityBits int
	// UsableCapacityPercent bounds how much of a list is handed out before it
	// is marked FULL. Under-filling keeps index acquisition contention low
	// and leaves headroom for the consolidation window.
	UsableCapacityPercent int
}

// ConsolidationConfig controls the periodic status list consolidation job.
type ConsolidationConfig struct {
	Interval  time.Duration
	BatchSize int
	// LeaseMinHold prevents overlapping runs on near-simultaneous ticks;
	// LeaseMaxHold lets a stuck run's lease be force-released.
	LeaseMinHold time.Duration
	LeaseMaxHold time.Duration
	// Epoch is the fallback watermark when no state exists yet.
	Epoch time.Time
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:        getenv("ATTEST_ADDR", ":8080"),
		PostgresDSN: os.Getenv("ATTEST_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("ATTEST_REDIS_URL"),
			PoolSize:     getint("ATTEST_REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("ATTEST_REDIS_MIN_IDLE", 2),
			DialTimeout:  getdur("ATTEST_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getdur("ATTEST_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getdur("ATTEST_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		IssuerID:          getenv("ATTEST_ISSUER_ID", "did:web:issuer.example.com"),
		IssuerBaseURL:     getenv("ATTEST_ISSUER_BASE_URL", "https://issuer.example.com"),
		SigningServiceURL: os.Getenv("ATTEST_SIGNING_SERVICE_URL"),
		SigningKeyAppID:   os.Getenv("ATTEST_SIGNING_KEY_APP_ID"),
		SigningKeyRefID:   os.Getenv("ATTEST_SIGNING_KEY_REF_ID"),

		SignAlgorithm:      getenv("ATTEST_SIGN_ALG", "EdDSA"),
		CryptoSuite:        getenv("ATTEST_CRYPTO_SUITE", "Ed25519Signature2020"),
		VerificationMethod: os.Getenv("ATTEST_VERIFICATION_METHOD"),

		IntrospectionURL:          os.Getenv("ATTEST_INTROSPECTION_URL"),
		IntrospectionClientID:     os.Getenv("ATTEST_INTROSPECTION_CLIENT_ID"),
		IntrospectionClientSecret: os.Getenv("ATTEST_INTROSPECTION_CLIENT_SECRET"),

		MetadataFile:     os.Getenv("ATTEST_METADATA_FILE"),
		MetadataCacheTTL: getdur("ATTEST_METADATA_CACHE_TTL", 5*time.Minute),
		Nonce: NonceConfig{
			TTL: getdur("ATTEST_NONCE_TTL", 5*time.Minute),
		},
		StatusList: StatusListConfig{
			CapacityBits:          getint("ATTEST_STATUS_LIST_CAPACITY", 131072),
			UsableCapacityPercent: getint("ATTEST_STATUS_LIST_USABLE_PERCENT", 50),
		},
		Consolidation: ConsolidationConfig{
			Interval:     getdur("ATTEST_CONSOLIDATION_INTERVAL", 5*time.Minute),
			BatchSize:    getint("ATTEST_CONSOLIDATION_BATCH_SIZE", 1000),
			LeaseMinHold: getdur("ATTEST_CONSOLIDATION_LEASE_MIN", 30*time.Second),
			LeaseMaxHold: getdur("ATTEST_CONSOLIDATION_LEASE_MAX", 10*time.Minute),
			Epoch:        getepoch("ATTEST_CONSOLIDATION_EPOCH"),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getepoch parses an RFC3339 timestamp, falling back to now-24h on absence
// or parse failure so a bad value never stalls consolidation forever.
func getepoch(key string) time.Time {
	if v := os.Getenv(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Now().Add(-24 * time.Hour)
}
