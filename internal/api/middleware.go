/**
 * @description
 * This file contains custom middleware for the HTTP router. The session
 * middleware validates the HS256 JWT issued at login and places the
 * authenticated principal's identifier and registry on the request context.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Token parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pharmacore/vault-service/internal/domain"
)

// SessionContextKey is a custom type for the context keys to avoid collisions.
type SessionContextKey string

const (
	sessionIdentifierKey SessionContextKey = "sessionIdentifier"
	sessionRegistryKey   SessionContextKey = "sessionRegistry"
)

const sessionTokenTTL = 12 * time.Hour

// IssueSessionToken signs an HS256 session token for an authenticated
// principal.
func IssueSessionToken(signingSecret string, principal *domain.Principal) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      principal.Identifier,
		"registry": string(principal.Registry),
		"iat":      now.Unix(),
		"exp":      now.Add(sessionTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// SessionAuthMiddleware creates a middleware that validates session JWTs.
func SessionAuthMiddleware(signingSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(signingSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			identifier, ok := claims["sub"].(string)
			if !ok || identifier == "" {
				http.Error(w, "Invalid token subject", http.StatusUnauthorized)
				return
			}
			registryClaim, ok := claims["registry"].(string)
			if !ok {
				http.Error(w, "Invalid token registry", http.StatusUnauthorized)
				return
			}
			registry, ok := domain.ParseRegistry(registryClaim)
			if !ok {
				http.Error(w, "Invalid token registry", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionIdentifierKey, identifier)
			ctx = context.WithValue(ctx, sessionRegistryKey, registry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionIdentifier retrieves the authenticated identifier from the
// request context.
func GetSessionIdentifier(ctx context.Context) (string, bool) {
	identifier, ok := ctx.Value(sessionIdentifierKey).(string)
	return identifier, ok
}

// GetSessionRegistry retrieves the authenticated principal's registry from
// the request context.
func GetSessionRegistry(ctx context.Context) (domain.Registry, bool) {
	registry, ok := ctx.Value(sessionRegistryKey).(domain.Registry)
	return registry, ok
}
