package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 60 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultPlatesCollection    = "plates"
	defaultAssetsDir           = "assets"
	defaultPlatesFolder        = "plates"
	defaultPublicBaseURL       = "https://storage.googleapis.com"
	defaultPreviewWidth        = 1200
	defaultExportWidth         = 3840
	defaultJPEGQuality         = 88
	defaultSupersample         = 2
	defaultFontLoadTimeout     = 30 * time.Second
	defaultFontConcurrency     = 4
	defaultMigrationFormat     = "jpeg"
	defaultCacheBackend        = "memory"
	defaultCacheKeyPrefix      = "plates:render:"
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultJWKSValidity        = 15 * time.Minute
	defaultImageCacheControl   = "public, max-age=31536000"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultSecurityIAPIssuer   = "https://cloud.google.com/iap"
)

// Config is the plate render API configuration, read from PLATES_* variables.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	Render    RenderConfig
	Cache     CacheConfig
	Events    EventsConfig
	Security  SecurityConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig locates the plate listing collection.
type FirestoreConfig struct {
	ProjectID        string
	EmulatorHost     string
	PlatesCollection string
	// DialTimeout bounds the first client dial. Zero keeps the provider default.
	DialTimeout time.Duration
}

// StorageConfig locates render assets and the bucket regenerated images are written to.
// Assets are read from AssetsBucket when set, otherwise from the local AssetsDir.
type StorageConfig struct {
	AssetsBucket    string
	AssetsPrefix    string
	AssetsDir       string
	PlatesBucket    string
	PlatesFolder    string
	PublicBaseURL   string
	CredentialsJSON string
	// CacheControl is set on uploaded plate images. URLs carry a cache buster, so
	// long lifetimes are safe.
	CacheControl string
}

// RenderConfig tunes output sizes and font loading.
type RenderConfig struct {
	PreviewWidth    int
	ExportWidth     int
	JPEGQuality     int
	Supersample     int
	FontLoadTimeout time.Duration
	FontConcurrency int
	MigrationFormat string
}

// CacheConfig selects the store backing the preview render cache.
type CacheConfig struct {
	Backend   string
	RedisURL  string
	TTL       time.Duration
	KeyPrefix string
}

// EventsConfig controls the optional plate.image.regenerated topic.
type EventsConfig struct {
	ProjectID        string
	RegeneratedTopic string
}

// SecurityConfig guards the internal regeneration endpoint.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL string
	// Audience wins over Audiences, which is keyed by lower-cased environment.
	Audience  string
	Audiences map[string]string
	Issuers   []string

	// AllowedEmails restricts internal callers to these service accounts when non-empty.
	AllowedEmails []string
	// JWKSValidity keeps fetched keys this long when the key endpoint sends no max-age.
	JWKSValidity time.Duration
}

// SecretResolver resolves secret:// references, usually against Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists config fields, or raw variable names for values that
// failed to parse, that Load rejected.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: missing or invalid [" + strings.Join(e.fields, ", ") + "]"
}

func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError wraps a failed secret lookup with its normalised reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secret fields that resolved empty. Its
// message carries only redacted names so it is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "config: missing required secrets"
	}
	return "config: missing required secrets [" + strings.Join(redacted, ", ") + "]"
}

// RedactedNames returns short hashes of the missing field names, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	slices.Sort(out)
	return out
}

// Names returns the missing field names, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Clone(e.names)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile reads a dotenv file at path. An empty path disables it; a
// missing file is ignored.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies values that override both the dotenv file and the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets names secret-capable fields (e.g. "Cache.RedisURL") that
// must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// EnvironmentValues merges the dotenv file, the process environment and the
// explicit map, later sources winning. main uses it to configure the secret
// fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	return environment(newLoaderOptions(opts))
}

func environment(options loaderOptions) (map[string]string, error) {
	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func readDotEnv(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	env, err := gotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	for key, value := range env {
		values[key] = value
	}
	return values, nil
}

// Load builds Config from PLATES_* variables, resolves secret references and
// validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := environment(options)
	if err != nil {
		return Config{}, err
	}

	env := envReader{values: values}
	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("PLATES_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("PLATES_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("PLATES_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("PLATES_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:        env.str("PLATES_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:     env.str("PLATES_FIRESTORE_EMULATOR_HOST", ""),
			PlatesCollection: env.str("PLATES_FIRESTORE_PLATES_COLLECTION", defaultPlatesCollection),
			DialTimeout:      env.duration("PLATES_FIRESTORE_DIAL_TIMEOUT", 0),
		},
		Storage: StorageConfig{
			AssetsBucket:    env.str("PLATES_STORAGE_ASSETS_BUCKET", ""),
			AssetsPrefix:    env.str("PLATES_STORAGE_ASSETS_PREFIX", ""),
			AssetsDir:       env.str("PLATES_STORAGE_ASSETS_DIR", defaultAssetsDir),
			PlatesBucket:    env.str("PLATES_STORAGE_PLATES_BUCKET", ""),
			PlatesFolder:    env.str("PLATES_STORAGE_PLATES_FOLDER", defaultPlatesFolder),
			PublicBaseURL:   strings.TrimRight(env.str("PLATES_STORAGE_PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
			CredentialsJSON: env.str("PLATES_STORAGE_CREDENTIALS_JSON", ""),
			CacheControl:    env.str("PLATES_STORAGE_CACHE_CONTROL", defaultImageCacheControl),
		},
		Render: RenderConfig{
			PreviewWidth:    env.int("PLATES_RENDER_PREVIEW_WIDTH", defaultPreviewWidth),
			ExportWidth:     env.int("PLATES_RENDER_EXPORT_WIDTH", defaultExportWidth),
			JPEGQuality:     env.int("PLATES_RENDER_JPEG_QUALITY", defaultJPEGQuality),
			Supersample:     env.int("PLATES_RENDER_SUPERSAMPLE", defaultSupersample),
			FontLoadTimeout: env.duration("PLATES_RENDER_FONT_LOAD_TIMEOUT", defaultFontLoadTimeout),
			FontConcurrency: env.int("PLATES_RENDER_FONT_CONCURRENCY", defaultFontConcurrency),
			MigrationFormat: strings.ToLower(env.str("PLATES_RENDER_MIGRATION_FORMAT", defaultMigrationFormat)),
		},
		Cache: CacheConfig{
			Backend:   strings.ToLower(env.str("PLATES_CACHE_BACKEND", defaultCacheBackend)),
			RedisURL:  env.str("PLATES_CACHE_REDIS_URL", ""),
			TTL:       env.duration("PLATES_CACHE_TTL", 0),
			KeyPrefix: env.str("PLATES_CACHE_KEY_PREFIX", defaultCacheKeyPrefix),
		},
		Events: EventsConfig{
			ProjectID:        env.str("PLATES_EVENTS_PROJECT_ID", ""),
			RegeneratedTopic: env.str("PLATES_EVENTS_REGENERATED_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("PLATES_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:       env.str("PLATES_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:      env.str("PLATES_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:     env.pairs("PLATES_SECURITY_OIDC_AUDIENCES"),
				Issuers:       env.list("PLATES_SECURITY_OIDC_ISSUERS"),
				AllowedEmails: env.list("PLATES_SECURITY_OIDC_ALLOWED_EMAILS"),
				JWKSValidity:  env.duration("PLATES_SECURITY_OIDC_JWKS_VALIDITY", defaultJWKSValidity),
			},
		},
	}

	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	resolved := make(map[string]string)
	for _, target := range []struct {
		name  string
		field *string
	}{
		{"Storage.CredentialsJSON", &cfg.Storage.CredentialsJSON},
		{"Cache.RedisURL", &cfg.Cache.RedisURL},
	} {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg, env.malformed); err != nil {
		return Config{}, err
	}

	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintln(os.Stderr, missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// resolveSecret passes plain values through and resolves secret:// and sm:// references.
func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	var ref string
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		ref = trimmed
	case strings.HasPrefix(trimmed, "sm://"):
		ref = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	default:
		return value, nil
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validate(cfg Config, malformed []string) error {
	invalid := slices.Clone(malformed)
	require := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(strings.TrimSpace(cfg.Firestore.PlatesCollection) != "", "Firestore.PlatesCollection")
	require(cfg.Storage.PlatesBucket != "", "Storage.PlatesBucket")
	require(cfg.Storage.AssetsBucket != "" || cfg.Storage.AssetsDir != "", "Storage.AssetsDir")
	require(cfg.Render.PreviewWidth > 0, "Render.PreviewWidth")
	require(cfg.Render.ExportWidth > 0, "Render.ExportWidth")
	require(cfg.Render.JPEGQuality >= 1 && cfg.Render.JPEGQuality <= 100, "Render.JPEGQuality")
	require(cfg.Render.Supersample >= 1, "Render.Supersample")
	require(slices.Contains([]string{"png", "jpeg", "jpg"}, cfg.Render.MigrationFormat), "Render.MigrationFormat")
	require(cfg.Firestore.DialTimeout >= 0, "Firestore.DialTimeout")
	require(cfg.Security.OIDC.JWKSValidity >= 0, "Security.OIDC.JWKSValidity")

	switch cfg.Cache.Backend {
	case "memory", "none":
	case "redis":
		require(strings.TrimSpace(cfg.Cache.RedisURL) != "", "Cache.RedisURL")
	default:
		invalid = append(invalid, "Cache.Backend")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(names, name) || resolved[name] != "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return &MissingSecretsError{names: names}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// envReader reads typed values and remembers variables that were set but did
// not parse, so Load can reject them instead of silently using the default.
type envReader struct {
	values    map[string]string
	malformed []string
}

func (r *envReader) raw(key string) (string, bool) {
	value := strings.TrimSpace(r.values[key])
	return value, value != ""
}

func (r *envReader) str(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *envReader) int(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return parsed
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return parsed
}

// list splits a comma separated value, dropping blanks.
func (r *envReader) list(key string) []string {
	value, _ := r.raw(key)
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "env=value,env=value" with lower-cased keys.
func (r *envReader) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range r.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}
