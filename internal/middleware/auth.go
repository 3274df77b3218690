package middleware

import (
	"context"
	"strings"

	"github.com/gogf/gf/v2/net/ghttp"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mailtrace/core/internal/config"
	"github.com/mailtrace/core/internal/model"
	"github.com/mailtrace/core/pkg/response"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// Auth validates the bearer JWT and stores the caller's opaque user_id in
// the request context for downstream handlers (§6 auth note, §7).
func Auth(r *ghttp.Request) {
	token := ExtractToken(r)
	if token == "" {
		response.Unauthorized(r, "Authorization required")
		return
	}

	cfg := config.Cfg
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		response.Unauthorized(r, "Invalid or expired token")
		return
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		response.Unauthorized(r, "Invalid token claims")
		return
	}

	userID, _ := claims["userId"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	if userID == "" {
		response.Unauthorized(r, "Token missing user identity")
		return
	}

	jwtClaims := &model.JWTClaims{UserID: userID}
	ctx := context.WithValue(r.Context(), ClaimsContextKey, jwtClaims)
	r.SetCtx(ctx)

	r.Middleware.Next()
}

// GetClaims extracts JWT claims from request context.
func GetClaims(r *ghttp.Request) *model.JWTClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*model.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// ExtractToken extracts the raw bearer token from the Authorization header.
func ExtractToken(r *ghttp.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
