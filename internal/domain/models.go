// Package domain holds the business state the messaging server
// persists and emits events about: users and messages. Schema design is
// out of scope (spec.md Non-goals); these are the Go-level contracts the
// rest of the system depends on.
package domain

import "time"

// User is an authenticated account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message is a single chat/notification message.
type Message struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId,omitempty"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}
