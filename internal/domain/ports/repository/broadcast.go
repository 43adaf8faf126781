package repository

import (
	"context"

	"telegram-image-generation/internal/domain/model"
)

type BroadcastRepository interface {
	Save(ctx context.Context, tx Tx, b *model.Broadcast) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Broadcast, error)
	List(ctx context.Context, tx Tx, limit int) ([]*model.Broadcast, error)

	// IncrementCounter bumps one of sent_count / failed_count / blocked_count
	// with a single-statement update so concurrent deliveries never lose counts.
	IncrementCounter(ctx context.Context, tx Tx, broadcastID string, status model.RecipientStatus) error

	// MarkCompleted flips a running broadcast to completed and stamps
	// completed_at; it is a no-op when the status is no longer running.
	MarkCompleted(ctx context.Context, tx Tx, broadcastID string) (flipped bool, err error)

	SaveRecipient(ctx context.Context, tx Tx, r *model.BroadcastRecipient) error
	ListRecipients(ctx context.Context, tx Tx, broadcastID string, limit int) ([]*model.BroadcastRecipient, error)
}
