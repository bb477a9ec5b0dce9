package middleware

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"citysnap-backend/internal/config"
	"citysnap-backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	UserIDKey  = "user_id"
	IsAdminKey = "is_admin"
)

func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "missing authorization header", "")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, http.StatusUnauthorized, "invalid authorization header format", "")
			return
		}

		tokenString := parts[1]
		// Some clients URL-encode the token.
		if decoded, err := url.QueryUnescape(tokenString); err == nil {
			tokenString = decoded
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if cfg.JWTSecret == "" {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			message := err.Error()
			switch {
			case strings.Contains(message, "signature is invalid"):
				message = "token signature is invalid"
			case strings.Contains(message, "token is expired"):
				message = "token has expired"
			}
			abort(c, http.StatusUnauthorized, "invalid token", message)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			abort(c, http.StatusUnauthorized, "invalid token claims", "")
			return
		}

		userID := stringClaim(claims, "user_id")
		if userID == "" {
			userID = stringClaim(claims, "sub")
		}
		if userID == "" {
			abort(c, http.StatusUnauthorized, "missing user id in token", "")
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(IsAdminKey, adminClaim(claims))
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			abort(c, http.StatusForbidden, "admin role required", "")
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetBool(IsAdminKey)
}

func stringClaim(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		// Numeric ids come through encoding/json as float64.
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func adminClaim(claims jwt.MapClaims) bool {
	if role, ok := claims["role"].(string); ok && strings.EqualFold(role, "admin") {
		return true
	}
	switch v := claims["is_admin"].(type) {
	case bool:
		return v
	case float64:
		return v == 1
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	}
	return false
}

func abort(c *gin.Context, status int, errMsg, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: errMsg, Message: message})
}
