package repo

import (
	"sync"

	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/protocolerr"
)

// MemoryUserRepository is an in-memory UserRepository for tests and
// local dev mode (no DSN configured).
type MemoryUserRepository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: make(map[string]*domain.User)}
}

func (r *MemoryUserRepository) GetByID(id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, protocolerr.New(protocolerr.NotFound, "user not found")
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) GetByEmail(email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, protocolerr.New(protocolerr.NotFound, "user not found")
}

func (r *MemoryUserRepository) Create(u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[u.ID]; exists {
		return protocolerr.New(protocolerr.Conflict, "user already exists")
	}
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) Update(u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[u.ID]; !exists {
		return protocolerr.New(protocolerr.NotFound, "user not found")
	}
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		return protocolerr.New(protocolerr.NotFound, "user not found")
	}
	delete(r.byID, id)
	return nil
}

// MemoryMessageRepository is an in-memory MessageRepository.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Message
	byChannel map[string][]string
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		byID:      make(map[string]*domain.Message),
		byChannel: make(map[string][]string),
	}
}

func (r *MemoryMessageRepository) Create(m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.byID[m.ID] = &cp
	if m.ChannelID != "" {
		r.byChannel[m.ChannelID] = append(r.byChannel[m.ChannelID], m.ID)
	}
	return nil
}

func (r *MemoryMessageRepository) GetByID(id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, protocolerr.New(protocolerr.NotFound, "message not found")
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryMessageRepository) ListByChannel(channelID string, limit int) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byChannel[channelID]
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	start := len(ids) - limit
	out := make([]*domain.Message, 0, limit)
	for _, id := range ids[start:] {
		cp := *r.byID[id]
		out = append(out, &cp)
	}
	return out, nil
}
