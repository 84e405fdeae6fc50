// Package accounts implements registration, login and the password reset flow.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
	"github.com/cppla/jellyfish/tokens"
)

// DefaultResetURLBase is prefixed to the token in reset mails.
const DefaultResetURLBase = "http://localhost:3000/change-password/"

// Mailer delivers an HTML body to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, html string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// UserResponse carries either the affected user or the field errors explaining why there is none.
type UserResponse struct {
	User   *models.User       `json:"user,omitempty"`
	Errors common.FieldErrors `json:"errors,omitempty"`
}

func failed(errs common.FieldErrors) *UserResponse {
	return &UserResponse{Errors: errs}
}

type Service struct {
	store        store.Store
	tokens       *tokens.Store
	mailer       Mailer
	hasher       PasswordHasher
	log          *zap.Logger
	resetURLBase string
}

func NewService(s store.Store, t *tokens.Store, m Mailer, h PasswordHasher, log *zap.Logger, resetURLBase string) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if resetURLBase == "" {
		resetURLBase = DefaultResetURLBase
	}
	return &Service{store: s, tokens: t, mailer: m, hasher: h, log: log, resetURLBase: resetURLBase}
}

// Register creates an account. Input problems and taken names come back as field errors.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*UserResponse, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	errs := ValidateRegister(in)
	if !errs.Empty() {
		return failed(errs), nil
	}

	if _, err := s.store.Users().GetByUsername(ctx, in.Username); err == nil {
		errs.Add("username", "username already taken")
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.Users().GetByEmail(ctx, in.Email); err == nil {
		errs.Add("email", "email already taken")
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if !errs.Empty() {
		return failed(errs), nil
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{Username: in.Username, Email: in.Email, PasswordHash: hash}
	if err := s.store.Users().Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, common.ErrConflict) {
			errs.Add("username", "username already taken")
			return failed(errs), nil
		}
		return nil, err
	}
	return &UserResponse{User: user}, nil
}

// Login checks credentials. usernameOrEmail is treated as an email when it contains "@".
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (*UserResponse, error) {
	var errs common.FieldErrors
	usernameOrEmail = strings.TrimSpace(usernameOrEmail)

	var (
		user *models.User
		err  error
	)
	if strings.Contains(usernameOrEmail, "@") {
		user, err = s.store.Users().GetByEmail(ctx, usernameOrEmail)
	} else {
		user, err = s.store.Users().GetByUsername(ctx, usernameOrEmail)
	}
	if errors.Is(err, common.ErrNotFound) {
		errs.Add("usernameOrEmail", "that username doesn't exist")
		return failed(errs), nil
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		errs.Add("password", "incorrect password")
		return failed(errs), nil
	}
	return &UserResponse{User: user}, nil
}

// Me returns the viewer's account, or nil for anonymous viewers and deleted accounts.
func (s *Service) Me(ctx context.Context, viewerID uint) (*models.User, error) {
	if viewerID == 0 {
		return nil, nil
	}
	u, err := s.store.Users().GetByID(ctx, viewerID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

// RequestPasswordReset mails a reset link when email belongs to an account.
// It reports true for unknown addresses too so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (bool, error) {
	user, err := s.store.Users().GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, common.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return false, err
	}
	link := fmt.Sprintf(`<a href="%s%s">reset password</a>`, s.resetURLBase, token)
	if err := s.mailer.Send(ctx, user.Email, link); err != nil {
		s.log.Warn("reset mail not sent", zap.Uint("user_id", user.ID), zap.Error(err))
		// undelivered tokens must not stay redeemable
		if err := s.tokens.Invalidate(ctx, token); err != nil {
			s.log.Warn("drop undelivered reset token", zap.Error(err))
		}
	}
	return true, nil
}

// CompletePasswordReset sets a new password for the user the token was issued to and burns the token.
// A rejected password leaves the token usable; otherwise the token is spent even if the update fails.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) (*UserResponse, error) {
	var errs common.FieldErrors
	if !validPassword(newPassword) {
		errs.Add("newPassword", msgTooShort)
		_, found, err := s.tokens.Resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		if !found {
			errs.Add("token", "token expired")
		}
		return failed(errs), nil
	}

	userID, found, err := s.tokens.Consume(ctx, token)
	if err != nil {
		return nil, err
	}
	if !found {
		errs.Add("token", "token expired")
		return failed(errs), nil
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		errs.Add("token", "user no longer exists")
		return failed(errs), nil
	}
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	return &UserResponse{User: user}, nil
}
