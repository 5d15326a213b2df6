package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"listing-studio-backend/internal/config"
	"listing-studio-backend/internal/models"
)

const (
	UserIDKey      = "user_id"
	WorkspaceIDKey = "workspace_id"
)

func abortUnauthorized(c *gin.Context, errCode, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: errCode, Message: message})
}

// AuthMiddleware verifies the Supabase session JWT and stores the caller's
// user and active workspace ids in the gin context.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header", "")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization header format", "")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			abortUnauthorized(c, "empty token", "")
			return
		}

		// Some clients URL-encode the token
		if decoded, err := url.QueryUnescape(tokenString); err == nil {
			tokenString = decoded
		}

		if strings.Count(tokenString, ".") != 2 {
			abortUnauthorized(c, "invalid token format", "JWT token must have 3 parts separated by dots")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if cfg.SupabaseJWTSecret == "" {
				return nil, jwt.ErrSignatureInvalid
			}
			// Supabase JWT secret is used directly as the signing key
			return []byte(cfg.SupabaseJWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid token", tokenErrorMessage(err))
			return
		}

		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			abortUnauthorized(c, "missing user id in token", "sub claim must be a uuid")
			return
		}

		workspaceID, err := workspaceFromClaims(claims, userID)
		if err != nil {
			abortUnauthorized(c, "invalid workspace in token", err.Error())
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(WorkspaceIDKey, workspaceID)
		c.Next()
	}
}

func tokenErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid - check JWT secret"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed - ensure you're using a valid Supabase JWT token"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "token uses an unsupported signing method"
	default:
		return err.Error()
	}
}

// workspaceFromClaims reads the active workspace from a top-level
// workspace_id claim or from app_metadata. Users without one work in their
// personal workspace, which shares their user id.
func workspaceFromClaims(claims jwt.MapClaims, userID uuid.UUID) (uuid.UUID, error) {
	raw, _ := claims["workspace_id"].(string)
	if raw == "" {
		if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
			raw, _ = meta["workspace_id"].(string)
		}
	}
	if raw == "" {
		return userID, nil
	}
	return uuid.Parse(raw)
}

// UserID returns the authenticated user id set by AuthMiddleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// WorkspaceID returns the active workspace id set by AuthMiddleware.
func WorkspaceID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(WorkspaceIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
