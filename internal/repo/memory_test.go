package repo

import (
	"testing"
	"time"

	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/protocolerr"
)

func TestMemoryUserRepositoryCRUD(t *testing.T) {
	r := NewMemoryUserRepository()
	u := &domain.User{ID: "u1", Email: "a@example.com", DisplayName: "A", CreatedAt: time.Now()}

	if err := r.Create(u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Create(u); err == nil || protocolerr.KindOf(err) != protocolerr.Conflict {
		t.Fatalf("expected Conflict on duplicate create, got %v", err)
	}

	got, err := r.GetByID("u1")
	if err != nil || got.Email != "a@example.com" {
		t.Fatalf("GetByID: %v %+v", err, got)
	}

	byEmail, err := r.GetByEmail("a@example.com")
	if err != nil || byEmail.ID != "u1" {
		t.Fatalf("GetByEmail: %v %+v", err, byEmail)
	}

	u.DisplayName = "Updated"
	if err := r.Update(u); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = r.GetByID("u1")
	if got.DisplayName != "Updated" {
		t.Errorf("expected updated display name, got %s", got.DisplayName)
	}

	if err := r.Delete("u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.GetByID("u1"); protocolerr.KindOf(err) != protocolerr.NotFound {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}

func TestMemoryUserRepositoryMutationIsolation(t *testing.T) {
	r := NewMemoryUserRepository()
	u := &domain.User{ID: "u1", Email: "a@example.com"}
	r.Create(u)

	got, _ := r.GetByID("u1")
	got.Email = "mutated@example.com"

	fresh, _ := r.GetByID("u1")
	if fresh.Email != "a@example.com" {
		t.Error("expected stored record to be unaffected by mutating a returned copy")
	}
}

func TestMemoryMessageRepositoryListByChannel(t *testing.T) {
	r := NewMemoryMessageRepository()
	for i := 0; i < 3; i++ {
		r.Create(&domain.Message{ID: string(rune('a' + i)), ChannelID: "c1", Content: "msg", CreatedAt: time.Now()})
	}
	r.Create(&domain.Message{ID: "other", ChannelID: "c2", Content: "msg"})

	msgs, err := r.ListByChannel("c1", 0)
	if err != nil {
		t.Fatalf("ListByChannel: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages in c1, got %d", len(msgs))
	}

	limited, _ := r.ListByChannel("c1", 2)
	if len(limited) != 2 {
		t.Errorf("expected limit to cap at 2, got %d", len(limited))
	}
}

func TestMemoryMessageRepositoryGetByIDNotFound(t *testing.T) {
	r := NewMemoryMessageRepository()
	if _, err := r.GetByID("missing"); protocolerr.KindOf(err) != protocolerr.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}
