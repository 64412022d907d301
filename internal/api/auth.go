package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/kalambet/parentproof/internal/storage"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserID returns the authenticated user set by JWTAuth.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(auth[len(prefix):])
	return tok, tok != ""
}

// BearerAuth guards operator routes with a static token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JWTAuth accepts HMAC-signed tokens and puts the "sub" claim in the
// request context.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			sub, err := parseSubject(raw, secret)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid token: %v", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), sub)))
		})
	}
}

func parseSubject(raw, secret string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("token is not valid")
	}
	switch sub := claims["sub"].(type) {
	case string:
		if sub != "" {
			return sub, nil
		}
	case float64:
		return strconv.FormatFloat(sub, 'f', -1, 64), nil
	}
	return "", errors.New("token has no subject")
}

// IssueToken signs a token for userID valid for ttl. Used by the CLI and
// tests; production tokens come from the identity provider.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}).SignedString([]byte(secret))
}

// SubscriptionReader looks up billing state.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, userID string) (storage.Subscription, error)
}

// RequireSubscription rejects users without an active subscription with 402.
func RequireSubscription(subs SubscriptionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, err := subs.GetSubscription(r.Context(), UserID(r.Context()))
			switch {
			case errors.Is(err, storage.ErrNotFound):
				httpError(w, http.StatusPaymentRequired, "subscription_required", "an active subscription is required")
				return
			case err != nil:
				httpError(w, http.StatusServiceUnavailable, "api_error", "could not verify subscription")
				return
			case sub.Status != "active":
				httpError(w, http.StatusPaymentRequired, "subscription_required", "subscription is %s", sub.Status)
				return
			case !sub.Active(time.Now()):
				httpError(w, http.StatusPaymentRequired, "subscription_required", "subscription expired")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
