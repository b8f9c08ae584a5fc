package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	plateAudience    = "https://plates-api.example.run.app"
	googleIssuer     = "https://accounts.google.com"
	iapIssuer        = "https://cloud.google.com/iap"
	schedulerAccount = "plate-regen@plates-prod.iam.gserviceaccount.com"
	signingKeyID     = "plates-kid-1"
)

var fixedNow = time.Unix(1_760_000_000, 0)

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

type verificationLog struct {
	mu      sync.Mutex
	reasons []string
}

func (l *verificationLog) RecordVerification(_ context.Context, kind string, _ bool, reason string, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if kind != "oidc" {
		return
	}
	l.reasons = append(l.reasons, reason)
}

func (l *verificationLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reasons) == 0 {
		return ""
	}
	return l.reasons[len(l.reasons)-1]
}

// jwksFixture serves one RSA key and counts how often the key set is fetched.
type jwksFixture struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     signingKeyID,
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=1800")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":   plateAudience,
		"iss":   googleIssuer,
		"sub":   "108234567890",
		"email": schedulerAccount,
		"iat":   float64(fixedNow.Unix()),
		"exp":   float64(fixedNow.Add(time.Hour).Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKeyID
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (f *jwksFixture) validator(t *testing.T, log *verificationLog, opts ...OIDCOption) *OIDCValidator {
	t.Helper()
	previous := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return fixedNow }
	t.Cleanup(func() { jwt.TimeFunc = previous })

	cache := NewJWKSCache(f.server.URL, WithJWKSLogger(discardLogger{}), WithJWKSClock(func() time.Time { return fixedNow }))
	base := []OIDCOption{
		WithOIDCLogger(discardLogger{}),
		WithOIDCMetrics(log),
		WithOIDCClock(func() time.Time { return fixedNow }),
	}
	return NewOIDCValidator(cache, append(base, opts...)...)
}

func TestJWKSCacheRefetchesOnlyForUnknownKid(t *testing.T) {
	fixture := newJWKSFixture(t)
	cache := NewJWKSCache(fixture.server.URL, WithJWKSLogger(discardLogger{}), WithJWKSClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	for range 3 {
		key, err := cache.Key(ctx, signingKeyID)
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key)
		}
	}
	if _, err := cache.Key(ctx, "rotated-away"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}
	if got := fixture.fetches.Load(); got != 2 {
		t.Fatalf("expected the initial fetch plus one refetch, got %d", got)
	}
}

func TestJWKSCacheValidityWithoutCacheHeaders(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: signingKeyID, Algorithm: "RS256", Use: "sig"}}}
	var fetches atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)

	now := fixedNow
	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(discardLogger{}),
		WithJWKSClock(func() time.Time { return now }),
		WithJWKSValidity(2*time.Minute),
		WithJWKSHTTPClient(server.Client()),
	)
	ctx := context.Background()
	if _, err := cache.Key(ctx, signingKeyID); err != nil {
		t.Fatalf("Key: %v", err)
	}

	now = fixedNow.Add(time.Minute)
	if _, err := cache.Key(ctx, signingKeyID); err != nil {
		t.Fatalf("Key: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected keys to stay fresh within the validity, got %d fetches", got)
	}

	now = fixedNow.Add(3 * time.Minute)
	if _, err := cache.Key(ctx, signingKeyID); err != nil {
		t.Fatalf("Key: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected a refetch once the validity elapsed, got %d fetches", got)
	}
}

func TestJWKSCacheUsesInjectedHTTPClient(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	t.Cleanup(server.Close)

	// The default client does not trust the test certificate.
	plain := NewJWKSCache(server.URL, WithJWKSLogger(discardLogger{}))
	if _, err := plain.Key(context.Background(), signingKeyID); !errors.Is(err, ErrJWKSFetchFailed) {
		t.Fatalf("expected TLS failure with the default client, got %v", err)
	}
	injected := NewJWKSCache(server.URL, WithJWKSLogger(discardLogger{}), WithJWKSHTTPClient(server.Client()))
	_, err := injected.Key(context.Background(), signingKeyID)
	if !errors.Is(err, ErrJWKSFetchFailed) || !strings.Contains(err.Error(), "empty key set") {
		t.Fatalf("expected the injected client to reach the server, got %v", err)
	}
}

func TestRequireOIDCGuardsRegeneration(t *testing.T) {
	cases := []struct {
		name       string
		claims     func(jwt.MapClaims)
		header     string
		noToken    bool
		audience   string
		issuers    []string
		allowed    []string
		brokenJWKS bool
		wantStatus int
		wantReason string
	}{
		{
			name:       "scheduler bearer token",
			wantStatus: http.StatusAccepted,
			wantReason: "ok",
		},
		{
			name:       "iap assertion header",
			header:     "X-Goog-Iap-Jwt-Assertion",
			claims:     func(c jwt.MapClaims) { c["iss"] = iapIssuer; c["aud"] = "/projects/42/global/backendServices/7" },
			audience:   "/projects/42/global/backendServices/7",
			issuers:    []string{iapIssuer},
			wantStatus: http.StatusAccepted,
			wantReason: "ok",
		},
		{
			name:       "allowed service account matches case-insensitively",
			allowed:    []string{"Plate-Regen@plates-prod.iam.gserviceaccount.com"},
			wantStatus: http.StatusAccepted,
			wantReason: "ok",
		},
		{
			name:       "unlisted service account",
			allowed:    []string{"ops@plates-prod.iam.gserviceaccount.com"},
			wantStatus: http.StatusForbidden,
			wantReason: "caller_not_allowed",
		},
		{
			name:       "token minted for another service",
			claims:     func(c jwt.MapClaims) { c["aud"] = []string{"https://billing.example.run.app"} },
			wantStatus: http.StatusUnauthorized,
			wantReason: "audience_mismatch",
		},
		{
			name:       "untrusted issuer",
			claims:     func(c jwt.MapClaims) { c["iss"] = "https://issuer.example.com" },
			wantStatus: http.StatusUnauthorized,
			wantReason: "issuer_mismatch",
		},
		{
			name:       "expired token",
			claims:     func(c jwt.MapClaims) { c["exp"] = float64(fixedNow.Add(-time.Minute).Unix()) },
			wantStatus: http.StatusUnauthorized,
			wantReason: "token_invalid",
		},
		{
			name:       "missing token",
			noToken:    true,
			wantStatus: http.StatusUnauthorized,
			wantReason: "token_missing",
		},
		{
			name:       "key set unreachable",
			brokenJWKS: true,
			wantStatus: http.StatusServiceUnavailable,
			wantReason: "jwks_unavailable",
		},
		{
			name:       "audience not configured",
			audience:   " ",
			wantStatus: http.StatusServiceUnavailable,
			wantReason: "audience_not_configured",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newJWKSFixture(t)
			log := &verificationLog{}
			var opts []OIDCOption
			if len(tc.allowed) > 0 {
				opts = append(opts, WithAllowedEmails(tc.allowed...))
			}
			validator := fixture.validator(t, log, opts...)
			if tc.brokenJWKS {
				validator.cache.url = "http://127.0.0.1:1/jwks"
			}

			audience := plateAudience
			if tc.audience != "" {
				audience = tc.audience
			}
			issuers := []string{googleIssuer, iapIssuer}
			if tc.issuers != nil {
				issuers = tc.issuers
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/plates:regenerate?async=true", nil)
			if !tc.noToken {
				token := fixture.sign(t, tc.claims)
				if tc.header != "" {
					req.Header.Set(tc.header, token)
				} else {
					req.Header.Set("Authorization", "Bearer "+token)
				}
			}

			var caller *ServiceIdentity
			rr := httptest.NewRecorder()
			validator.RequireOIDC(audience, issuers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				caller, _ = ServiceIdentityFromContext(r.Context())
				w.WriteHeader(http.StatusAccepted)
			})).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tc.wantStatus, rr.Body.String())
			}
			if got := log.last(); got != tc.wantReason {
				t.Fatalf("recorded reason %q, want %q", got, tc.wantReason)
			}
			if tc.wantStatus == http.StatusAccepted {
				if caller == nil || caller.Email != schedulerAccount || caller.Audience != audience {
					t.Fatalf("unexpected caller identity %+v", caller)
				}
				return
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON error body: %v", err)
			}
			if body["error"] == "" || body["status"] != float64(tc.wantStatus) {
				t.Fatalf("unexpected error body %v", body)
			}
		})
	}
}

func TestMaxAgeFromHeader(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=21600, must-revalidate, no-transform": 6 * time.Hour,
		"Max-Age=90":  90 * time.Second,
		"no-store":    0,
		"max-age=-5":  0,
		"max-age=1h":  0,
		"":            0,
	}
	for header, want := range cases {
		if got := maxAgeFromHeader(header); got != want {
			t.Fatalf("maxAgeFromHeader(%q) = %s, want %s", header, got, want)
		}
	}
}
