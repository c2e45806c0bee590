// Package jwt implements a JWT-bearer-token authentication middleware for
// ember, adapted from the token-cache-backed design in the paired HTTP
// framework this project grew out of.
package jwt

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/watt-toolkit/ember/pkg/ember/middleware"
)

// Sentinel errors passed to Config.ErrorHandler, if set.
var (
	ErrMissingToken      = errors.New("jwt: missing bearer token")
	ErrInvalidAuthHeader = errors.New("jwt: malformed Authorization header")
	ErrInvalidToken      = errors.New("jwt: token parse failed")
	ErrInvalidClaims     = errors.New("jwt: claims are not a MapClaims")
	ErrTokenExpired      = errors.New("jwt: token expired")
	ErrInvalidSignature  = errors.New("jwt: signature verification failed")
)

// Config configures the JWT middleware.
type Config struct {
	// Secret verifies an HMAC-signed token (HS256/HS384/HS512).
	Secret []byte

	// Algorithm restricts accepted signing methods; defaults to HS256.
	Algorithm string

	// SkipPaths bypass authentication entirely (health checks, login).
	SkipPaths []string

	// ContextKey is the Request.ContextValue key the verified
	// jwt.MapClaims are stored under. Defaults to "jwt_claims".
	ContextKey string

	// ErrorHandler, if set, replaces the default 401 JSON response.
	ErrorHandler func(res middleware.Response, err error)

	// CacheTTL bounds how long a successfully verified token is cached
	// so a hot path doesn't re-run signature verification on every
	// request carrying the same bearer token. Zero disables caching.
	CacheTTL time.Duration
}

// DefaultConfig returns a JWT configuration requiring an HS256 signature
// under secret, with a 1-minute verified-token cache.
func DefaultConfig(secret []byte) Config {
	return Config{
		Secret:     secret,
		Algorithm:  "HS256",
		ContextKey: "jwt_claims",
		CacheTTL:   time.Minute,
	}
}

type cacheEntry struct {
	claims    jwt.MapClaims
	expiresAt time.Time
}

// tokenCache memoizes verified tokens for CacheTTL so repeated requests
// bearing the same token skip re-parsing and re-verifying the signature.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newTokenCache(ttl time.Duration) *tokenCache {
	c := &tokenCache{entries: make(map[string]cacheEntry), ttl: ttl}
	go c.cleanupLoop()
	return c
}

func (c *tokenCache) get(token string) (jwt.MapClaims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[token]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.claims, true
}

func (c *tokenCache) set(token string, claims jwt.MapClaims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = cacheEntry{claims: claims, expiresAt: time.Now().Add(c.ttl)}
}

func (c *tokenCache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		c.mu.Unlock()
	}
}

func handleError(config Config, res middleware.Response, err error) {
	if config.ErrorHandler != nil {
		config.ErrorHandler(res, err)
		return
	}
	res.SetHeader("Content-Type", "application/json; charset=utf-8")
	res.Reply(401, []byte(`{"error":"`+err.Error()+`"}`))
}

// New returns a JWT-bearer-authentication middleware requiring secret to
// verify an HS256-signed token.
func New(secret []byte) middleware.Middleware {
	return WithConfig(DefaultConfig(secret))
}

// WithConfig returns a JWT middleware using config. Every request not in
// config.SkipPaths must carry "Authorization: Bearer <token>"; on
// success the verified claims are stashed under config.ContextKey via
// Request.SetContextValue for downstream middleware and route handlers.
func WithConfig(config Config) middleware.Middleware {
	if config.Algorithm == "" {
		config.Algorithm = "HS256"
	}
	if config.ContextKey == "" {
		config.ContextKey = "jwt_claims"
	}
	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = struct{}{}
	}

	var cache *tokenCache
	if config.CacheTTL > 0 {
		cache = newTokenCache(config.CacheTTL)
	}

	return func(next middleware.Next) middleware.Next {
		return func(req middleware.Request, res middleware.Response) {
			if _, ok := skip[req.Path()]; ok {
				next(req, res)
				return
			}

			token, err := extractBearerToken(req.Header("Authorization"))
			if err != nil {
				handleError(config, res, err)
				return
			}

			if cache != nil {
				if claims, ok := cache.get(token); ok {
					req.SetContextValue(config.ContextKey, claims)
					next(req, res)
					return
				}
			}

			claims, err := verify(token, config)
			if err != nil {
				handleError(config, res, err)
				return
			}

			if cache != nil {
				cache.set(token, claims)
			}

			req.SetContextValue(config.ContextKey, claims)
			next(req, res)
		}
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidAuthHeader
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func verify(token string, config Config) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != config.Algorithm {
			return nil, ErrInvalidSignature
		}
		return config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
