package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/pkg/crypto"
)

// AuthorizationHeader is the request header carrying the bearer token.
const AuthorizationHeader = "Authorization"

// Config contains configuration for the auth middleware.
type Config struct {
	// SecretKey is the plaintext shared secret.
	SecretKey string

	// SecretKeyHash is a bcrypt hash of the shared secret. Used when SecretKey is empty.
	SecretKeyHash string

	// SkipPaths are paths that skip authentication.
	SkipPaths []string
}

// ConfigFrom builds a Config from the application auth settings.
func ConfigFrom(cfg config.AuthConfig) Config {
	return Config{
		SecretKey:     cfg.SecretKey,
		SecretKeyHash: cfg.SecretKeyHash,
	}
}

// Verifier checks bearer tokens against the configured secret.
type Verifier struct {
	secret string
	hash   string

	// verified holds the digest of the last token that passed the bcrypt
	// check, so the expensive comparison runs once per process.
	mu       sync.RWMutex
	verified []byte
}

// NewVerifier creates a Verifier. A configured hash takes precedence over the plaintext secret.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.SecretKey == "" && cfg.SecretKeyHash == "" {
		return nil, ErrNoSecretConfigured
	}
	return &Verifier{secret: cfg.SecretKey, hash: cfg.SecretKeyHash}, nil
}

// Verify checks an Authorization header value.
func (v *Verifier) Verify(header string) error {
	if header == "" {
		return ErrMissingCredentials
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ErrInvalidScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingCredentials
	}

	if v.hash == "" {
		if !crypto.EqualSecrets(v.secret, token) {
			return ErrInvalidToken
		}
		return nil
	}

	digest := sha256.Sum256([]byte(token))

	v.mu.RLock()
	cached := v.verified
	v.mu.RUnlock()
	if cached != nil && subtle.ConstantTimeCompare(cached, digest[:]) == 1 {
		return nil
	}

	if !crypto.VerifySecretHash(v.hash, token) {
		return ErrInvalidToken
	}

	v.mu.Lock()
	v.verified = digest[:]
	v.mu.Unlock()
	return nil
}

// Middleware creates an authentication middleware.
func Middleware(verifier *Verifier, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range cfg.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			if err := verifier.Verify(r.Header.Get(AuthorizationHeader)); err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("bearer authentication failed")
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes a JSON error response with a Bearer challenge.
func writeAuthError(w http.ResponseWriter, err error) {
	authErr := NewAuthError(err)

	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.HTTPStatus)

	_ = json.NewEncoder(w).Encode(map[string]string{"detail": authErr.Message})
}
