package model

import (
	"time"

	"telegram-image-generation/internal/domain"

	"github.com/google/uuid"
)

type BroadcastStatus string

const (
	BroadcastStatusPending   BroadcastStatus = "pending"
	BroadcastStatusRunning   BroadcastStatus = "running"
	BroadcastStatusCompleted BroadcastStatus = "completed"
	BroadcastStatusCancelled BroadcastStatus = "cancelled"
	BroadcastStatusFailed    BroadcastStatus = "failed"
)

type BroadcastContentType string

const (
	BroadcastText      BroadcastContentType = "text"
	BroadcastPhoto     BroadcastContentType = "photo"
	BroadcastVideo     BroadcastContentType = "video"
	BroadcastDocument  BroadcastContentType = "document"
	BroadcastAnimation BroadcastContentType = "animation"
)

type BroadcastFilter string

const (
	FilterAll        BroadcastFilter = "all"
	FilterActive7d   BroadcastFilter = "active_7d"
	FilterActive30d  BroadcastFilter = "active_30d"
	FilterWithBalance BroadcastFilter = "with_balance"
	FilterPaidUsers  BroadcastFilter = "paid_users"
	FilterNewUsers7d BroadcastFilter = "new_users_7d"
)

func (f BroadcastFilter) Valid() bool {
	switch f {
	case FilterAll, FilterActive7d, FilterActive30d, FilterWithBalance, FilterPaidUsers, FilterNewUsers7d:
		return true
	}
	return false
}

// BroadcastButton is an optional single inline URL button under the message.
type BroadcastButton struct {
	Text string
	URL  string
}

// Broadcast is one admin-authored fan-out. Counters are only ever bumped by
// single-statement increments in the store, never read-modify-write.
type Broadcast struct {
	ID           string
	AdminID      string
	ContentType  BroadcastContentType
	Text         string
	MediaFileID  string
	Button       *BroadcastButton
	Filter       BroadcastFilter
	Status       BroadcastStatus
	TotalUsers   int
	SentCount    int
	FailedCount  int
	BlockedCount int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func NewBroadcast(adminID string, ct BroadcastContentType, text, mediaFileID string, button *BroadcastButton, filter BroadcastFilter) (*Broadcast, error) {
	if adminID == "" || !filter.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	switch ct {
	case BroadcastText:
		if text == "" {
			return nil, domain.ErrInvalidArgument
		}
	case BroadcastPhoto, BroadcastVideo, BroadcastDocument, BroadcastAnimation:
		if mediaFileID == "" {
			return nil, domain.ErrInvalidArgument
		}
	default:
		return nil, domain.ErrInvalidArgument
	}
	return &Broadcast{
		ID:          uuid.NewString(),
		AdminID:     adminID,
		ContentType: ct,
		Text:        text,
		MediaFileID: mediaFileID,
		Button:      button,
		Filter:      filter,
		Status:      BroadcastStatusPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Done reports whether every recipient has an outcome.
func (b *Broadcast) Done() bool {
	return b.SentCount+b.FailedCount+b.BlockedCount >= b.TotalUsers
}

// CohortMember is a resolved broadcast recipient.
type CohortMember struct {
	UserID     string
	TelegramID int64
}

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
	RecipientBlocked RecipientStatus = "blocked"
)

// BroadcastRecipient is the per-(broadcast, user) outcome row.
type BroadcastRecipient struct {
	ID           string
	BroadcastID  string
	UserID       string
	TelegramID   int64
	Status       RecipientStatus
	ErrorMessage string
	CreatedAt    time.Time
}
