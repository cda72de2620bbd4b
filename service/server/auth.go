package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "user_id"

// parseToken extracts and validates an HS256 bearer token, returning its claims.
func parseToken(r *http.Request, secret []byte) (jwt.MapClaims, error) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		return nil, fmt.Errorf("missing token")
	}

	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token claims")
}

// authMiddleware pins the caller's user id to the token's "sub" claim.
// An empty secret disables authentication and user_id is taken from the request.
func authMiddleware(secret string, next http.Handler) http.Handler {
	if secret == "" {
		return next
	}
	key := []byte(secret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := parseToken(r, key)
		if err != nil {
			writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			writeError(w, "token has no subject", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// errUserMismatch rejects a request naming a user other than the token subject.
var errUserMismatch = errorf("user_id does not match token subject")

// resolveUserID returns the authenticated user, or the supplied id when auth
// is disabled. A supplied id that disagrees with the token is rejected.
func resolveUserID(r *http.Request, supplied string) (string, error) {
	if authed, ok := r.Context().Value(userIDKey).(string); ok {
		if supplied != "" && supplied != authed {
			return "", errUserMismatch
		}
		return authed, nil
	}
	supplied = strings.TrimSpace(supplied)
	if supplied == "" {
		return "", errorf("user_id is required")
	}
	return supplied, nil
}
