package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultStorageBackend      = "memory"
	defaultEventsBackend       = "none"
	defaultPubSubTopic         = "order-events"
	defaultKafkaTopic          = "order-events"
	defaultRedisRulesTTL       = 5 * time.Minute
	defaultPostgresMaxOpen     = 10
	defaultPostgresMaxIdle     = 5
	defaultPostgresMaxLifetime = 30 * time.Minute
	defaultOrderNumberPrefix   = "CW"
	defaultOrderTimezone       = "UTC"
	defaultCurrency            = "GBP"
	defaultTaxRate             = "0.20"
	defaultShippingFlat        = 599
	defaultFreeShippingOver    = 5000
	defaultSweepInterval       = time.Minute
	defaultSweepAge            = 5 * time.Minute
	defaultSweepBatch          = 100
	defaultAuthIssuer          = "customwear"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultRateLimitPerMinute  = 120
	defaultRateLimitStaff      = 600
)

var (
	storageBackends = []string{"memory", "firestore", "postgres"}
	eventBackends   = []string{"none", "pubsub", "kafka"}
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Events      EventsConfig
	PSP         PSPConfig
	Orders      OrdersConfig
	Inventory   InventoryConfig
	Auth        AuthConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig stores SQL connection parameters.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig is optional; an empty Addr disables the rule cache and the Redis idempotency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	RulesTTL time.Duration
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Backend         string
	PubSubProjectID string
	PubSubTopic     string
	KafkaBrokers    []string
	KafkaTopic      string
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey string
}

// OrdersConfig holds order numbering and pricing policy.
type OrdersConfig struct {
	NumberPrefix          string
	Timezone              string
	Currency              string
	TaxRate               string
	ShippingFlat          int64
	FreeShippingThreshold int64
	DiscountCodes         map[string]string
}

// InventoryConfig controls the stock intent reconciliation sweep.
type InventoryConfig struct {
	SweepInterval time.Duration
	SweepAge      time.Duration
	SweepBatch    int
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	SigningKey       string
	Issuer           string
	AllowHeaderActor bool
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute int
	StaffPerMinute   int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
// Names are redacted in the message.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	return slices.Clone(e.names)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Auth.SigningKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Lookup returns a single value using the same precedence as Load. It lets main read
// bootstrap settings such as the secret manager project before Load runs.
func Lookup(key string, opts ...Option) (string, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return value, nil
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	var dotEnv map[string]string
	if o.envFile != "" {
		values, err := godotenv.Read(o.envFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: unable to read %s: %w", o.envFile, err)
		default:
			dotEnv = values
		}
	}

	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "API_STORAGE_BACKEND", defaultStorageBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:             stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxOpen),
			MaxIdleConns:    intWithDefault(lookup, "API_POSTGRES_MAX_IDLE_CONNS", defaultPostgresMaxIdle),
			ConnMaxLifetime: durationWithDefault(lookup, "API_POSTGRES_CONN_MAX_LIFETIME", defaultPostgresMaxLifetime),
			MigrateOnStart:  boolWithDefault(lookup, "API_POSTGRES_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			RulesTTL: durationWithDefault(lookup, "API_REDIS_RULES_TTL", defaultRedisRulesTTL),
		},
		Events: EventsConfig{
			Backend:         strings.ToLower(stringWithDefault(lookup, "API_EVENTS_BACKEND", defaultEventsBackend)),
			PubSubProjectID: stringWithDefault(lookup, "API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", defaultPubSubTopic),
			KafkaBrokers:    csvWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:      stringWithDefault(lookup, "API_EVENTS_KAFKA_TOPIC", defaultKafkaTopic),
		},
		PSP: PSPConfig{
			StripeAPIKey: stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
		},
		Orders: OrdersConfig{
			NumberPrefix:          strings.ToUpper(stringWithDefault(lookup, "API_ORDERS_NUMBER_PREFIX", defaultOrderNumberPrefix)),
			Timezone:              stringWithDefault(lookup, "API_ORDERS_TIMEZONE", defaultOrderTimezone),
			Currency:              strings.ToUpper(stringWithDefault(lookup, "API_ORDERS_CURRENCY", defaultCurrency)),
			TaxRate:               stringWithDefault(lookup, "API_ORDERS_TAX_RATE", defaultTaxRate),
			ShippingFlat:          int64(intWithDefault(lookup, "API_ORDERS_SHIPPING_FLAT", defaultShippingFlat)),
			FreeShippingThreshold: int64(intWithDefault(lookup, "API_ORDERS_FREE_SHIPPING_OVER", defaultFreeShippingOver)),
			DiscountCodes:         mapWithDefault(lookup, "API_ORDERS_DISCOUNT_CODES"),
		},
		Inventory: InventoryConfig{
			SweepInterval: durationWithDefault(lookup, "API_INVENTORY_SWEEP_INTERVAL", defaultSweepInterval),
			SweepAge:      durationWithDefault(lookup, "API_INVENTORY_SWEEP_AGE", defaultSweepAge),
			SweepBatch:    intWithDefault(lookup, "API_INVENTORY_SWEEP_BATCH", defaultSweepBatch),
		},
		Auth: AuthConfig{
			SigningKey:       stringWithDefault(lookup, "API_AUTH_SIGNING_KEY", ""),
			Issuer:           stringWithDefault(lookup, "API_AUTH_ISSUER", defaultAuthIssuer),
			AllowHeaderActor: boolWithDefault(lookup, "API_AUTH_ALLOW_HEADER_ACTOR", false),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute: intWithDefault(lookup, "API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitPerMinute),
			StaffPerMinute:   intWithDefault(lookup, "API_RATELIMIT_STAFF_PER_MIN", defaultRateLimitStaff),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firestore.ProjectID
	}

	resolver := options.secret
	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Auth.SigningKey", &cfg.Auth.SigningKey},
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if name != "" && resolved[name] == "" && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}

	return cfg, nil
}

// Location returns the time zone used to date order numbers.
func (c OrdersConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if !slices.Contains(storageBackends, cfg.Storage.Backend) {
		invalid = append(invalid, "Storage.Backend")
	}
	switch cfg.Storage.Backend {
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			invalid = append(invalid, "Postgres.DSN")
		}
	}
	if !slices.Contains(eventBackends, cfg.Events.Backend) {
		invalid = append(invalid, "Events.Backend")
	}
	switch cfg.Events.Backend {
	case "pubsub":
		if cfg.Events.PubSubProjectID == "" || cfg.Events.PubSubTopic == "" {
			invalid = append(invalid, "Events.PubSub")
		}
	case "kafka":
		if len(cfg.Events.KafkaBrokers) == 0 || cfg.Events.KafkaTopic == "" {
			invalid = append(invalid, "Events.Kafka")
		}
	}
	if strings.TrimSpace(cfg.Orders.NumberPrefix) == "" {
		invalid = append(invalid, "Orders.NumberPrefix")
	}
	if _, err := cfg.Orders.Location(); err != nil {
		invalid = append(invalid, "Orders.Timezone")
	}
	if rate, err := strconv.ParseFloat(cfg.Orders.TaxRate, 64); err != nil || rate < 0 || rate >= 1 {
		invalid = append(invalid, "Orders.TaxRate")
	}
	if cfg.Orders.ShippingFlat < 0 || cfg.Orders.FreeShippingThreshold < 0 {
		invalid = append(invalid, "Orders.Shipping")
	}
	if cfg.Inventory.SweepInterval <= 0 || cfg.Inventory.SweepAge <= 0 || cfg.Inventory.SweepBatch <= 0 {
		invalid = append(invalid, "Inventory.Sweep")
	}
	if cfg.Auth.SigningKey == "" && !cfg.Auth.AllowHeaderActor {
		invalid = append(invalid, "Auth.SigningKey")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 || cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid = append(invalid, "Idempotency.Cleanup")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// mapWithDefault parses "KEY=value,KEY2=value2". Keys are upper-cased.
func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToUpper(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !found || name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
