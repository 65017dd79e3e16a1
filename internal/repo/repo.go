// Package repo defines the persistence contracts for business state
// (users, messages) and two implementations: an in-memory one for tests
// and local dev, and a Postgres-backed one for production (spec.md §3.1
// of SPEC_FULL.md). Schema/migration design is out of scope — the
// Postgres repository assumes a single fixed schema.
package repo

import "github.com/rtmsg/broker/internal/domain"

// UserRepository is the injected collaborator the AUTH flow and user
// business operations depend on.
type UserRepository interface {
	GetByID(id string) (*domain.User, error)
	GetByEmail(email string) (*domain.User, error)
	Create(u *domain.User) error
	Update(u *domain.User) error
	Delete(id string) error
}

// MessageRepository persists chat/notification messages.
type MessageRepository interface {
	Create(m *domain.Message) error
	GetByID(id string) (*domain.Message, error)
	ListByChannel(channelID string, limit int) ([]*domain.Message, error)
}
