// Package auth verifies bearer tokens for board-api and stream-service.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrBadAuthorization     = errors.New("bad auth header")
)

const DefaultKeyCacheTTL = 15 * time.Minute

// Options configures an Auth. A non-empty TestSecret switches to HS256
// tokens signed with that secret instead of the JWKS.
type Options struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	TestSecret  []byte
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	opts   Options
	parser *jwt.Parser

	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func New(opts Options) *Auth {
	method := "RS256"
	if len(opts.TestSecret) > 0 {
		method = "HS256"
	}
	return &Auth{
		opts:   opts,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method})),
	}
}

// JWKSFromDomain fetches the signing keys of an Auth0 tenant.
func JWKSFromDomain(domain string) (*keyfunc.JWKS, error) {
	return keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", domain), keyfunc.Options{})
}

// UserIDFromAuthHeader extracts the user identifier from an Authorization header value.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := BearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(token)
}

// BearerToken returns the JWT carried by a "Bearer <jwt>" header value.
func BearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", ErrMissingAuthorization
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.Count(token, ".") != 2 {
		return "", ErrBadAuthorization
	}
	return token, nil
}

// UserIDFromToken verifies a raw JWT and returns its subject.
func (a *Auth) UserIDFromToken(token string) (string, error) {
	parsed, err := a.parser.Parse(token, a.key)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return "", errors.New("token expired")
	case !claims.VerifyNotBefore(now, false):
		return "", errors.New("token not valid yet")
	case a.opts.Audience != "" && !claims.VerifyAudience(a.opts.Audience, false):
		return "", errors.New("invalid audience")
	case a.opts.Issuer != "" && !claims.VerifyIssuer(a.opts.Issuer, false):
		return "", errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) key(token *jwt.Token) (any, error) {
	if len(a.opts.TestSecret) > 0 {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.opts.TestSecret, nil
	}
	if a.opts.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	ttl := a.opts.KeyCacheTTL
	kid, _ := token.Header["kid"].(string)
	if kid != "" && ttl > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.opts.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && ttl > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(ttl)})
	}
	return key, nil
}
