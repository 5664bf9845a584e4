package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
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
	defaultWishlistCollection  = "wishlist"
	defaultSearchEndpoint      = "https://openlibrary.org/search.json"
	defaultImageHost           = "https://covers.openlibrary.org"
	defaultCatalogTimeout      = 10 * time.Second
	defaultCatalogUserAgent    = "bookfinder/1.0"
	defaultSessionCookieName   = "bookfinder_session"
	defaultSessionLifetime     = 7 * 24 * time.Hour
	defaultSecurityEnvironment = "local"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Catalog   CatalogConfig
	Session   SessionConfig
	Events    EventsConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings. WebAPIKey is used for
// password sign-in against the Identity Toolkit API.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	WebAPIKey       string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID          string
	EmulatorHost       string
	WishlistCollection string
}

// CatalogConfig points at the public book search API.
type CatalogConfig struct {
	SearchEndpoint string
	ImageHost      string
	Timeout        time.Duration
	UserAgent      string
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	CookieName   string
	HashKey      string
	BlockKey     string
	Lifetime     time.Duration
	CookieSecure bool
}

// EventsConfig enables wishlist event publishing when a topic is set.
type EventsConfig struct {
	ProjectID     string
	WishlistTopic string
}

// SecurityConfig groups deployment environment settings.
type SecurityConfig struct {
	Environment string
}

// LocalMode reports whether the app runs without a Firebase project, backed by
// in-memory identity and wishlist stores.
func (c Config) LocalMode() bool {
	return strings.TrimSpace(c.Firebase.ProjectID) == ""
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
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
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

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a key lookup honouring the same precedence as Load
// (dotenv < OS env < explicit env map). main uses it to configure the
// secret fetcher before the full config is assembled.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := newLoaderOptions(opts)
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return options.lookup(dotEnvValues), nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := options.lookup(dotEnvValues)

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "BOOKFINDER_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:  durationWithDefault(lookup, "BOOKFINDER_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "BOOKFINDER_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "BOOKFINDER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "BOOKFINDER_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "BOOKFINDER_FIREBASE_CREDENTIALS_FILE", ""),
			WebAPIKey:       stringWithDefault(lookup, "BOOKFINDER_FIREBASE_WEB_API_KEY", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:          stringWithDefault(lookup, "BOOKFINDER_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:       stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
			WishlistCollection: stringWithDefault(lookup, "BOOKFINDER_FIRESTORE_WISHLIST_COLLECTION", defaultWishlistCollection),
		},
		Catalog: CatalogConfig{
			SearchEndpoint: stringWithDefault(lookup, "BOOKFINDER_CATALOG_SEARCH_ENDPOINT", defaultSearchEndpoint),
			ImageHost:      strings.TrimRight(stringWithDefault(lookup, "BOOKFINDER_CATALOG_IMAGE_HOST", defaultImageHost), "/"),
			Timeout:        durationWithDefault(lookup, "BOOKFINDER_CATALOG_TIMEOUT", defaultCatalogTimeout),
			UserAgent:      stringWithDefault(lookup, "BOOKFINDER_CATALOG_USER_AGENT", defaultCatalogUserAgent),
		},
		Session: SessionConfig{
			CookieName:   stringWithDefault(lookup, "BOOKFINDER_SESSION_COOKIE_NAME", defaultSessionCookieName),
			HashKey:      stringWithDefault(lookup, "BOOKFINDER_SESSION_HASH_KEY", ""),
			BlockKey:     stringWithDefault(lookup, "BOOKFINDER_SESSION_BLOCK_KEY", ""),
			Lifetime:     durationWithDefault(lookup, "BOOKFINDER_SESSION_LIFETIME", defaultSessionLifetime),
			CookieSecure: boolWithDefault(lookup, "BOOKFINDER_SESSION_COOKIE_SECURE", false),
		},
		Events: EventsConfig{
			ProjectID:     stringWithDefault(lookup, "BOOKFINDER_EVENTS_PROJECT_ID", ""),
			WishlistTopic: stringWithDefault(lookup, "BOOKFINDER_EVENTS_WISHLIST_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "BOOKFINDER_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}

	secretFields := []*string{
		&cfg.Firebase.WebAPIKey,
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o loaderOptions) lookup(dotEnv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnv[key]; ok {
			return value, true
		}
		return "", false
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if !isAbsoluteURL(cfg.Catalog.SearchEndpoint) {
		missing = append(missing, "Catalog.SearchEndpoint")
	}
	if !isAbsoluteURL(cfg.Catalog.ImageHost) {
		missing = append(missing, "Catalog.ImageHost")
	}
	if cfg.Catalog.Timeout <= 0 {
		missing = append(missing, "Catalog.Timeout")
	}
	if strings.TrimSpace(cfg.Session.CookieName) == "" {
		missing = append(missing, "Session.CookieName")
	}
	if cfg.Session.Lifetime <= 0 {
		missing = append(missing, "Session.Lifetime")
	}
	if strings.TrimSpace(cfg.Firestore.WishlistCollection) == "" {
		missing = append(missing, "Firestore.WishlistCollection")
	}

	if !cfg.LocalMode() {
		if cfg.Firebase.WebAPIKey == "" {
			missing = append(missing, "Firebase.WebAPIKey")
		}
		if len(cfg.Session.HashKey) < 32 {
			missing = append(missing, "Session.HashKey")
		}
	}
	if cfg.Session.BlockKey != "" {
		switch len(cfg.Session.BlockKey) {
		case 16, 24, 32:
		default:
			missing = append(missing, "Session.BlockKey")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return parsed
		}
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return fallback
}
