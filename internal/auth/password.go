package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/rtmsg/broker/internal/protocolerr"
)

// PasswordService hashes and verifies user passwords with bcrypt, the
// same primitive the teacher's oauth.go reaches for when it needs a
// one-way credential hash.
type PasswordService struct {
	cost int
}

func NewPasswordService(cost int) *PasswordService {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordService{cost: cost}
}

func (p *PasswordService) Hash(password string) (string, error) {
	if password == "" {
		return "", protocolerr.New(protocolerr.InvalidInput, "password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.DependencyError, "hash password", err)
	}
	return string(hash), nil
}

func (p *PasswordService) Verify(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return protocolerr.Wrap(protocolerr.Unauthorized, "invalid credentials", err)
	}
	return nil
}
