package storage

import (
	"time"

	"tenai/internal/providers"
)

type Chat struct {
	ID           string
	UserID       string
	Title        string
	Model        string
	SystemPrompt string
	Public       bool
	ProjectID    *string
	Pinned       bool
	PinnedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	ID             string
	ChatID         string
	Role           string
	Content        string
	Attachments    *string
	Parts          *string
	MessageGroupID *string
	Model          *string
	CreatedAt      time.Time
}

type UserKey struct {
	UserID    string
	Provider  providers.ID
	EncAPIKey string
	CreatedAt time.Time
	UpdatedAt time.Time
}
