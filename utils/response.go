package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse is the envelope of every API response. Code 0 means success.
type JSONResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data any) {
	ctx.JSON(status, JSONResponse{Code: code, Message: message, Data: data})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data any) {
	Respond(ctx, http.StatusOK, 0, "success", data)
}

// Error returns an error response without data.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// Invalid answers 400 and lists the rejected fields under data.errors.
func Invalid(ctx *gin.Context, code int, fieldErrors any) {
	Respond(ctx, http.StatusBadRequest, code, "validation failed", gin.H{"errors": fieldErrors})
}
