package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/jellyfish/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextTokenKey stores the raw bearer token so logout can revoke it.
	ContextTokenKey = "token"
	// ContextTokenExpiryKey stores the token's expiry time.
	ContextTokenExpiryKey = "token_expires_at"
)

// Authenticator resolves bearer tokens into the viewer identity.
type Authenticator struct {
	jwt       *utils.JWTManager
	blacklist *utils.TokenBlacklist
}

func NewAuthenticator(jwt *utils.JWTManager, blacklist *utils.TokenBlacklist) *Authenticator {
	return &Authenticator{jwt: jwt, blacklist: blacklist}
}

// AuthRequired ensures the request is authenticated via JWT.
func (a *Authenticator) AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "not authenticated")
			ctx.Abort()
			return
		}
		if code, msg := a.authenticate(ctx, authHeader); code != 0 {
			utils.Error(ctx, http.StatusUnauthorized, code, msg)
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// OptionalAuth identifies the viewer when a valid token is present and otherwise treats the request as anonymous.
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if authHeader := ctx.GetHeader("Authorization"); authHeader != "" {
			a.authenticate(ctx, authHeader)
		}
		ctx.Next()
	}
}

// authenticate stores the identity on success and returns a non-zero error code otherwise.
func (a *Authenticator) authenticate(ctx *gin.Context, authHeader string) (int, string) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return 40102, "invalid authorization header format"
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return 40103, "empty bearer token"
	}

	if a.blacklist != nil && a.blacklist.IsRevoked(ctx.Request.Context(), tokenString) {
		return 40104, "token revoked"
	}

	claims, err := a.jwt.Parse(tokenString)
	if err != nil {
		return 40105, "invalid token"
	}

	ctx.Set(ContextUserIDKey, claims.UserID)
	ctx.Set(ContextTokenKey, tokenString)
	if claims.ExpiresAt != nil {
		ctx.Set(ContextTokenExpiryKey, claims.ExpiresAt.Time)
	}
	return 0, ""
}

// ViewerID returns the authenticated user id, or 0 for anonymous requests.
func ViewerID(ctx *gin.Context) uint {
	return ctx.GetUint(ContextUserIDKey)
}

// BearerToken returns the token that authenticated the request and its expiry.
func BearerToken(ctx *gin.Context) (string, time.Time) {
	return ctx.GetString(ContextTokenKey), ctx.GetTime(ContextTokenExpiryKey)
}
