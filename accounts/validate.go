package accounts

import (
	"strings"
	"unicode/utf8"

	"github.com/cppla/jellyfish/common"
)

const (
	msgTooShort       = "length must be greater than 2"
	msgInvalidEmail   = "invalid email"
	msgNoAtInUsername = "cannot include an @"
)

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ValidateRegister reports every problem with in, not only the first.
func ValidateRegister(in RegisterInput) common.FieldErrors {
	var errs common.FieldErrors
	if !strings.Contains(in.Email, "@") {
		errs.Add("email", msgInvalidEmail)
	}
	if utf8.RuneCountInString(in.Username) <= 2 {
		errs.Add("username", msgTooShort)
	}
	if strings.Contains(in.Username, "@") {
		errs.Add("username", msgNoAtInUsername)
	}
	if !validPassword(in.Password) {
		errs.Add("password", msgTooShort)
	}
	return errs
}

func validPassword(p string) bool {
	return utf8.RuneCountInString(p) > 2
}
