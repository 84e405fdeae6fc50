package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/jellyfish/accounts"
	"github.com/cppla/jellyfish/middleware"
	"github.com/cppla/jellyfish/utils"
)

// AuthController handles registration, sessions and the password reset flow.
type AuthController struct {
	accounts  *accounts.Service
	jwt       *utils.JWTManager
	blacklist *utils.TokenBlacklist
	log       *zap.Logger
}

// NewAuthController constructs an AuthController.
func NewAuthController(svc *accounts.Service, jwt *utils.JWTManager, blacklist *utils.TokenBlacklist, log *zap.Logger) *AuthController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthController{accounts: svc, jwt: jwt, blacklist: blacklist, log: log}
}

// Register creates an account and signs the new user in.
func (a *AuthController) Register(ctx *gin.Context) {
	var req accounts.RegisterInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request payload")
		return
	}

	res, err := a.accounts.Register(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, a.log, err, 50010, "failed to register user")
		return
	}
	a.signIn(ctx, res)
}

// Login authenticates by username or email.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		UsernameOrEmail string `json:"usernameOrEmail" binding:"required"`
		Password        string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40011, "invalid request payload")
		return
	}

	res, err := a.accounts.Login(ctx.Request.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		respondError(ctx, a.log, err, 50011, "failed to login")
		return
	}
	a.signIn(ctx, res)
}

// Logout revokes the token used for this request until it expires.
func (a *AuthController) Logout(ctx *gin.Context) {
	token, expiresAt := middleware.BearerToken(ctx)
	if token == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "not authenticated")
		return
	}
	if err := a.blacklist.Revoke(ctx.Request.Context(), token, expiresAt); err != nil {
		a.log.Error("revoke token failed", zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to logout")
		return
	}
	utils.Success(ctx, gin.H{"logged_out": true})
}

// Me returns the signed in user, or null for anonymous requests.
func (a *AuthController) Me(ctx *gin.Context) {
	user, err := a.accounts.Me(ctx.Request.Context(), middleware.ViewerID(ctx))
	if err != nil {
		respondError(ctx, a.log, err, 50013, "failed to load user")
		return
	}
	middleware.PrimeUser(ctx, user)
	utils.Success(ctx, gin.H{"user": user})
}

// ForgotPassword mails a reset link. It answers the same way for unknown addresses.
func (a *AuthController) ForgotPassword(ctx *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40014, "invalid request payload")
		return
	}

	ok, err := a.accounts.RequestPasswordReset(ctx.Request.Context(), req.Email)
	if err != nil {
		respondError(ctx, a.log, err, 50014, "failed to start password reset")
		return
	}
	utils.Success(ctx, gin.H{"sent": ok})
}

// ChangePassword redeems a reset token and signs the user in with the new password.
func (a *AuthController) ChangePassword(ctx *gin.Context) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40015, "invalid request payload")
		return
	}

	res, err := a.accounts.CompletePasswordReset(ctx.Request.Context(), req.Token, req.NewPassword)
	if err != nil {
		respondError(ctx, a.log, err, 50015, "failed to change password")
		return
	}
	a.signIn(ctx, res)
}

// signIn answers with field errors, or with the user and a fresh session token.
func (a *AuthController) signIn(ctx *gin.Context, res *accounts.UserResponse) {
	if !res.Errors.Empty() {
		respondFieldErrors(ctx, res.Errors)
		return
	}
	token, err := a.jwt.Generate(res.User.ID, res.User.Username)
	if err != nil {
		a.log.Error("generate token failed", zap.Uint("user_id", res.User.ID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50016, "failed to generate token")
		return
	}
	utils.Success(ctx, gin.H{"user": res.User, "token": token})
}
