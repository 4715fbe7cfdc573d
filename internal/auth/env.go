package auth

import (
	"fmt"

	"taskflow/internal/config"
)

// FromEnv builds the authenticator the services share. AUTH0_TEST_MODE=1
// switches to HS256 tokens signed with TEST_JWT_SECRET.
func FromEnv() (*Auth, error) {
	if config.Bool("AUTH0_TEST_MODE") {
		secret := config.String("TEST_JWT_SECRET", "")
		if secret == "" {
			return nil, fmt.Errorf("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return New(Options{TestSecret: []byte(secret)}), nil
	}
	domain, audience := config.String("AUTH0_DOMAIN", ""), config.String("AUTH0_AUDIENCE", "")
	if domain == "" || audience == "" {
		return nil, fmt.Errorf("missing Auth0 config")
	}
	jwks, err := JWKSFromDomain(domain)
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return New(Options{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      "https://" + domain + "/",
		KeyCacheTTL: config.Duration("AUTH_KEY_CACHE_TTL", DefaultKeyCacheTTL),
	}), nil
}
