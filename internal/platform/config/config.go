package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment labels deployment flavours.
type Environment string

const (
	EnvironmentLocal      Environment = "local"
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// HTTPConfig groups HTTP server settings.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig groups Firestore client settings.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// FirebaseConfig groups Firebase Admin SDK settings used for token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// GatewayConfig groups the wallet payment gateway settings.
type GatewayConfig struct {
	Endpoint    string
	PartnerCode string
	AccessKey   string
	SecretKey   string
	IPNURL      string
	RedirectURL string
	Timeout     time.Duration
	MaxRetries  int
}

// PricingConfig groups pricing constants applied at checkout.
type PricingConfig struct {
	DeliveryFee int64
}

// PubSubConfig groups the domain-event publisher settings.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
	Enabled   bool
}

// IdempotencyConfig groups settings for the idempotency store.
type IdempotencyConfig struct {
	CollectionID    string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Config is the root configuration consumed by the composition root.
type Config struct {
	Environment Environment
	HTTP        HTTPConfig
	Firestore   FirestoreConfig
	Firebase    FirebaseConfig
	Gateway     GatewayConfig
	Pricing     PricingConfig
	PubSub      PubSubConfig
	Idempotency IdempotencyConfig
}

// ValidationError aggregates missing or malformed configuration keys.
type ValidationError struct {
	Missing []string
	Invalid []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		sort.Strings(e.Missing)
		parts = append(parts, "missing keys: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		sort.Strings(e.Invalid)
		parts = append(parts, "invalid keys: "+strings.Join(e.Invalid, ", "))
	}
	if len(parts) == 0 {
		return "config: validation failed"
	}
	return "config: " + strings.Join(parts, "; ")
}

type loadOptions struct {
	env         map[string]string
	dotenvPath  string
	skipDotenv  bool
	environment Environment
}

// Option customises Load behaviour.
type Option func(*loadOptions)

// WithEnvironment overrides individual keys ahead of OS environment lookup,
// primarily for tests.
func WithEnvironment(values map[string]string) Option {
	return func(o *loadOptions) {
		if o.env == nil {
			o.env = make(map[string]string, len(values))
		}
		for k, v := range values {
			o.env[k] = v
		}
	}
}

// WithDotenvPath points Load at a specific .env file.
func WithDotenvPath(path string) Option {
	return func(o *loadOptions) {
		o.dotenvPath = strings.TrimSpace(path)
	}
}

// WithoutDotenv disables .env loading entirely.
func WithoutDotenv() Option {
	return func(o *loadOptions) {
		o.skipDotenv = true
	}
}

// Load resolves configuration with precedence: explicit overrides, then OS
// environment, then the .env file.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	dotenv := map[string]string{}
	if !options.skipDotenv {
		dotenv = loadDotenv(options.dotenvPath)
	}

	lookup := func(key string) string {
		if v, ok := options.env[key]; ok {
			return strings.TrimSpace(v)
		}
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}

	verr := &ValidationError{}

	cfg := Config{
		Environment: parseEnvironment(stringWithDefault(lookup, "APP_ENV", string(EnvironmentLocal))),
		HTTP: HTTPConfig{
			Addr:            stringWithDefault(lookup, "HTTP_ADDR", ":8080"),
			ReadTimeout:     durationWithDefault(lookup, "HTTP_READ_TIMEOUT", 15*time.Second, verr),
			WriteTimeout:    durationWithDefault(lookup, "HTTP_WRITE_TIMEOUT", 30*time.Second, verr),
			IdleTimeout:     durationWithDefault(lookup, "HTTP_IDLE_TIMEOUT", 60*time.Second, verr),
			ShutdownTimeout: durationWithDefault(lookup, "HTTP_SHUTDOWN_TIMEOUT", 20*time.Second, verr),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup("FIRESTORE_PROJECT_ID"),
			EmulatorHost: lookup("FIRESTORE_EMULATOR_HOST"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       lookup("FIREBASE_PROJECT_ID"),
			CredentialsFile: lookup("FIREBASE_CREDENTIALS_FILE"),
		},
		Gateway: GatewayConfig{
			Endpoint:    lookup("GATEWAY_ENDPOINT"),
			PartnerCode: lookup("GATEWAY_PARTNER_CODE"),
			AccessKey:   lookup("GATEWAY_ACCESS_KEY"),
			SecretKey:   lookup("GATEWAY_SECRET_KEY"),
			IPNURL:      lookup("GATEWAY_IPN_URL"),
			RedirectURL: lookup("GATEWAY_REDIRECT_URL"),
			Timeout:     durationWithDefault(lookup, "GATEWAY_TIMEOUT", 10*time.Second, verr),
			MaxRetries:  intWithDefault(lookup, "GATEWAY_MAX_RETRIES", 2, verr),
		},
		Pricing: PricingConfig{
			DeliveryFee: int64WithDefault(lookup, "PRICING_DELIVERY_FEE", 15000, verr),
		},
		PubSub: PubSubConfig{
			ProjectID: lookup("PUBSUB_PROJECT_ID"),
			TopicID:   stringWithDefault(lookup, "PUBSUB_TOPIC_ID", "order-events"),
			Enabled:   boolWithDefault(lookup, "PUBSUB_ENABLED", false, verr),
		},
		Idempotency: IdempotencyConfig{
			CollectionID:    stringWithDefault(lookup, "IDEMPOTENCY_COLLECTION", "idempotencyKeys"),
			TTL:             durationWithDefault(lookup, "IDEMPOTENCY_TTL", 24*time.Hour, verr),
			CleanupInterval: durationWithDefault(lookup, "IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour, verr),
		},
	}

	if cfg.Firestore.ProjectID == "" && cfg.Firestore.EmulatorHost == "" {
		verr.Missing = append(verr.Missing, "FIRESTORE_PROJECT_ID")
	}
	if cfg.Firebase.ProjectID == "" {
		verr.Missing = append(verr.Missing, "FIREBASE_PROJECT_ID")
	}
	for key, value := range map[string]string{
		"GATEWAY_ENDPOINT":     cfg.Gateway.Endpoint,
		"GATEWAY_PARTNER_CODE": cfg.Gateway.PartnerCode,
		"GATEWAY_ACCESS_KEY":   cfg.Gateway.AccessKey,
		"GATEWAY_SECRET_KEY":   cfg.Gateway.SecretKey,
		"GATEWAY_IPN_URL":      cfg.Gateway.IPNURL,
	} {
		if value == "" {
			verr.Missing = append(verr.Missing, key)
		}
	}
	if cfg.Pricing.DeliveryFee < 0 {
		verr.Invalid = append(verr.Invalid, "PRICING_DELIVERY_FEE")
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return Config{}, verr
	}
	return cfg, nil
}

func loadDotenv(path string) map[string]string {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return map[string]string{}
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return map[string]string{}
	}
	return values
}

func parseEnvironment(value string) Environment {
	switch Environment(strings.ToLower(value)) {
	case EnvironmentStaging:
		return EnvironmentStaging
	case EnvironmentProduction:
		return EnvironmentProduction
	default:
		return EnvironmentLocal
	}
}

func stringWithDefault(lookup func(string) string, key, fallback string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return fallback
}

func durationWithDefault(lookup func(string) string, key string, fallback time.Duration, verr *ValidationError) time.Duration {
	raw := lookup(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		verr.Invalid = append(verr.Invalid, key)
		return fallback
	}
	return d
}

func intWithDefault(lookup func(string) string, key string, fallback int, verr *ValidationError) int {
	raw := lookup(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		verr.Invalid = append(verr.Invalid, key)
		return fallback
	}
	return n
}

func int64WithDefault(lookup func(string) string, key string, fallback int64, verr *ValidationError) int64 {
	raw := lookup(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		verr.Invalid = append(verr.Invalid, key)
		return fallback
	}
	return n
}

func boolWithDefault(lookup func(string) string, key string, fallback bool, verr *ValidationError) bool {
	raw := lookup(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		verr.Invalid = append(verr.Invalid, key)
		return fallback
	}
	return b
}

// String renders a redacted summary safe for startup logs.
func (c Config) String() string {
	return fmt.Sprintf("env=%s http=%s firestore=%s gateway=%s delivery_fee=%d",
		c.Environment, c.HTTP.Addr, c.Firestore.ProjectID, c.Gateway.PartnerCode, c.Pricing.DeliveryFee)
}
