package repository

import (
	"context"
	"time"

	"telegram-image-generation/internal/domain/model"
)

type GenerationRequestRepository interface {
	Save(ctx context.Context, tx Tx, r *model.GenerationRequest) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.GenerationRequest, error)
	CountActiveByUser(ctx context.Context, tx Tx, userID string) (int, error)
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.GenerationRequest, error)

	// FindStuck returns requests still in an active state whose created_at is
	// older than the cutoff. Used by the reaper sweep.
	FindStuck(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.GenerationRequest, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.RequestStatus]int, error)
}

type GenerationReferenceRepository interface {
	Save(ctx context.Context, tx Tx, ref *model.GenerationReference) error
	ListByRequest(ctx context.Context, tx Tx, requestID string) ([]*model.GenerationReference, error)
}

type GenerationResultRepository interface {
	// Save inserts a result unless one with the same URL already exists for
	// the request.
	Save(ctx context.Context, tx Tx, res *model.GenerationResult) error
	ListByRequest(ctx context.Context, tx Tx, requestID string) ([]*model.GenerationResult, error)
}

type GenerationJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.GenerationJob) error
	FindByRequest(ctx context.Context, tx Tx, requestID string) (*model.GenerationJob, error)
}

type TrialUseRepository interface {
	// Insert records trial consumption; reports inserted=false when the user
	// already spent their trial.
	Insert(ctx context.Context, tx Tx, t *model.TrialUse) (inserted bool, err error)
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.TrialUse, error)
	DeleteByRequest(ctx context.Context, tx Tx, requestID string) error
}
