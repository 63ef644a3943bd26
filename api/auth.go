/*
auth.go - Bearer token authentication

PURPOSE:
  Resolves the calling principal for every /api request. Tokens are HS256
  JWTs naming a directory user; the user's CURRENT role is read from the
  directory on each request, so a role change or deletion takes effect
  without reissuing tokens.

FLOW:
  Authorization: Bearer <jwt>
    -> verify signature, issuer, expiry
    -> directory.Users.Get(claims.UserID)
    -> ledger.Principal in request context

  Missing, invalid or expired token, or a deleted user: 401 UNAUTHENTICATED.

SEE ALSO:
  - cmd/issue-token/main.go: Issues tokens for directory users
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/directory"
	"github.com/warp/cession-engine/ledger"
)

// TokenClaims are the claims carried by an access token.
type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenConfig holds signing configuration.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	ExpiresIn  time.Duration
}

// GenerateToken creates a signed token for user.
func GenerateToken(cfg TokenConfig, user ledger.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(cfg.ExpiresIn)

	claims := TokenClaims{
		UserID: string(user.ID),
		Email:  user.Email,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   string(user.ID),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies a token and returns its claims.
func (cfg TokenConfig) ParseToken(tokenString string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p ledger.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by the Authenticator. The zero
// Principal fails every role gate.
func PrincipalFrom(ctx context.Context) ledger.Principal {
	p, _ := ctx.Value(principalKey{}).(ledger.Principal)
	return p
}

// Authenticator verifies bearer tokens and resolves the principal.
type Authenticator struct {
	Tokens TokenConfig
	Users  *directory.Users
	Log    *zap.Logger
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, KindUnauthenticated, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, KindUnauthenticated, "invalid authorization header format")
			return
		}

		claims, err := a.Tokens.ParseToken(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			writeError(w, http.StatusUnauthorized, KindUnauthenticated, msg)
			return
		}

		user, err := a.Users.Get(r.Context(), ledger.UserID(claims.UserID))
		if err != nil {
			if ledger.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, KindUnauthenticated, "unknown user")
				return
			}
			a.Log.Error("resolve principal", zap.String("user_id", claims.UserID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, ledger.KindStorage, "storage unavailable, retry later")
			return
		}

		ctx := WithPrincipal(r.Context(), ledger.FromUser(*user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
