package model

import (
	"strings"
	"time"

	"telegram-image-generation/internal/domain"

	"github.com/google/uuid"
)

// User is a domain entity representing a Telegram user in our system.
// Users are created on first contact and never deleted.
type User struct {
	ID           string
	TelegramID   int64
	Username     string
	ReferralCode string
	ReferrerID   *string // internal id of the user who invited this one
	IsAdmin      bool
	IsBanned     bool
	RegisteredAt time.Time
	LastActiveAt time.Time
}

func NewUser(id string, tgID int64, username string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if tgID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &User{
		ID:           id,
		TelegramID:   tgID,
		Username:     username,
		ReferralCode: NewReferralCode(),
		RegisteredAt: now,
		LastActiveAt: now,
	}, nil
}

// NewReferralCode derives a short shareable code. Uniqueness is backed by the
// users table constraint; collisions on 8 hex chars are retried at save time.
func NewReferralCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
func (u *User) Touch()       { u.LastActiveAt = time.Now().UTC() }
