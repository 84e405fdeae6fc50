package utils

import "golang.org/x/crypto/bcrypt"

// BcryptHasher hashes passwords with bcrypt. A zero Cost means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

// Hash returns the bcrypt hash of the password.
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares the bcrypt hashed password with its possible plaintext equivalent.
func (BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
