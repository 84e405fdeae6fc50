package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/jellyfish/loader"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
)

const contextUserLoaderKey = "user_loader"

// RequestLoaders gives every request a fresh user loader so batching and caching never leak across requests.
func RequestLoaders(users store.UserRepository) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set(contextUserLoaderKey, loader.NewUserLoader(ctx.Request.Context(), users))
		ctx.Next()
	}
}

// UserLoaderFrom returns the request's loader, creating an unshared one if the middleware was not installed.
func UserLoaderFrom(ctx *gin.Context, users store.UserRepository) *loader.UserLoader {
	if v, ok := ctx.Get(contextUserLoaderKey); ok {
		if l, ok := v.(*loader.UserLoader); ok {
			return l
		}
	}
	l := loader.NewUserLoader(ctx.Request.Context(), users)
	ctx.Set(contextUserLoaderKey, l)
	return l
}

// PrimeUser seeds the request's user loader with an already fetched user. It is a no-op without RequestLoaders.
func PrimeUser(ctx *gin.Context, u *models.User) {
	if u == nil {
		return
	}
	if v, ok := ctx.Get(contextUserLoaderKey); ok {
		if l, ok := v.(*loader.UserLoader); ok {
			l.Prime(u.ID, *u)
		}
	}
}
