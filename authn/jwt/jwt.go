// Package jwt is the external-collaborator interface spec.md §6 names:
// JWKS_HOST/JWT_ISSUER/JWT_ALLOWED_AUDIENCES/JWT_ALGORITHMS are "consumed
// by the external token validator, not by the core" — in production an
// API-Gateway-style authorizer validates the bearer token and the core
// only ever sees its already-verified claims in
// event.requestContext.authorizer. This package is that external
// validator's local stand-in, for deployments that front the gateway
// directly instead of behind such an authorizer.
package jwt

import (
	"net/http"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/forbearing/querygate/config"
	"github.com/forbearing/querygate/types/claims"
)

var (
	ErrMissingAuthHeader  = errors.New("missing or malformed Authorization header")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrUnexpectedIssuer   = errors.New("unexpected token issuer")
	ErrUnexpectedAudience = errors.New("unexpected token audience")
)

// Secret is the HMAC key every token is verified against; this package
// neither signs tokens nor fetches keys from a JWKS endpoint.
// Exported so a deployment's bootstrap step can set it from a mounted
// secret instead of an environment variable.
var Secret = []byte("dev-secret-change-me")

// registeredClaims is the wire shape this validator expects in the token
// body beyond the standard RFC 7519 fields: the role/scope/permission
// tokens claims.Claims threads through the Permission Resolver's WHERE
// templates and spec.md §4.3's scope-enforcement gate.
type registeredClaims struct {
	Roles       []string `json:"roles"`
	Scopes      []string `json:"scope"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// ParseTokenFromHeader extracts a bearer token from an Authorization
// header and validates it, returning the caller's Claims.
func ParseTokenFromHeader(header http.Header) (*claims.Claims, error) {
	value := header.Get("Authorization")
	if len(value) == 0 {
		return nil, ErrMissingAuthHeader
	}
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, ErrMissingAuthHeader
	}
	return ParseToken(parts[1])
}

// ParseToken validates tokenStr against config.App.Auth (issuer, allowed
// audiences, allowed signing algorithms) and returns the resulting Claims.
func ParseToken(tokenStr string) (*claims.Claims, error) {
	if len(tokenStr) == 0 {
		return nil, ErrInvalidToken
	}

	rc := new(registeredClaims)
	token, err := jwt.ParseWithClaims(tokenStr, rc, keyFunc, jwt.WithValidMethods(allowedAlgorithms()))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, "failed to parse token")
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if issuer := config.App.Auth.JWTIssuer; len(issuer) > 0 && rc.Issuer != issuer {
		return nil, ErrUnexpectedIssuer
	}
	if allowed := config.App.Auth.JWTAllowedAudiences; len(allowed) > 0 {
		if !slices.ContainsFunc(rc.Audience, func(aud string) bool {
			return slices.Contains(allowed, aud)
		}) {
			return nil, ErrUnexpectedAudience
		}
	}

	return &claims.Claims{
		Subject:     rc.Subject,
		Roles:       rc.Roles,
		Scopes:      rc.Scopes,
		Permissions: rc.Permissions,
	}, nil
}

func allowedAlgorithms() []string {
	if algs := config.App.Auth.JWTAlgorithms; len(algs) > 0 {
		return algs
	}
	return []string{"HS256"}
}

func keyFunc(token *jwt.Token) (any, error) {
	return Secret, nil
}
