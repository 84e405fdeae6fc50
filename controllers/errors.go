package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/utils"
)

// respondFieldErrors reports validation problems with the offending fields in data.errors.
func respondFieldErrors(ctx *gin.Context, errs common.FieldErrors) {
	utils.Invalid(ctx, 40001, errs)
}

// respondError maps service errors onto the response envelope. fallbackCode is used for store failures.
func respondError(ctx *gin.Context, log *zap.Logger, err error, fallbackCode int, fallbackMsg string) {
	var fieldErrs common.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		respondFieldErrors(ctx, fieldErrs)
	case errors.Is(err, common.ErrInvalidInput):
		utils.Error(ctx, http.StatusBadRequest, 40002, err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		utils.Error(ctx, http.StatusUnauthorized, 40110, "not authenticated")
	case errors.Is(err, common.ErrForbidden):
		utils.Error(ctx, http.StatusForbidden, 40301, err.Error())
	case errors.Is(err, common.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40400, "not found")
	default:
		log.Error(fallbackMsg, zap.String("path", ctx.FullPath()), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, fallbackCode, fallbackMsg)
	}
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
