package usecase

import (
	"context"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

// GenerationQueryUseCase serves the read side of the generation API.
// Ownership is enforced here: callers only ever see their own requests.
type GenerationQueryUseCase interface {
	Active(ctx context.Context, telegramID int64) (*model.GenerationRequest, error)
	Get(ctx context.Context, requestID string, telegramID int64) (*model.GenerationRequest, error)
	Results(ctx context.Context, requestID string, telegramID int64) ([]*model.GenerationResult, error)
}

type generationQueryUC struct {
	users    repository.UserRepository
	requests repository.GenerationRequestRepository
	results  repository.GenerationResultRepository
}

func NewGenerationQueryUseCase(
	users repository.UserRepository,
	requests repository.GenerationRequestRepository,
	results repository.GenerationResultRepository,
) GenerationQueryUseCase {
	return &generationQueryUC{users: users, requests: requests, results: results}
}

func (uc *generationQueryUC) Active(ctx context.Context, telegramID int64) (*model.GenerationRequest, error) {
	u, err := uc.users.FindByTelegramID(ctx, repository.NoTX, telegramID)
	if err != nil {
		return nil, err
	}
	return uc.requests.FindActiveByUser(ctx, repository.NoTX, u.ID)
}

func (uc *generationQueryUC) Get(ctx context.Context, requestID string, telegramID int64) (*model.GenerationRequest, error) {
	req, err := uc.requests.FindByID(ctx, repository.NoTX, requestID)
	if err != nil {
		return nil, err
	}
	if err := uc.checkOwner(ctx, req, telegramID); err != nil {
		return nil, err
	}
	return req, nil
}

func (uc *generationQueryUC) Results(ctx context.Context, requestID string, telegramID int64) ([]*model.GenerationResult, error) {
	if _, err := uc.Get(ctx, requestID, telegramID); err != nil {
		return nil, err
	}
	return uc.results.ListByRequest(ctx, repository.NoTX, requestID)
}

func (uc *generationQueryUC) checkOwner(ctx context.Context, req *model.GenerationRequest, telegramID int64) error {
	u, err := uc.users.FindByTelegramID(ctx, repository.NoTX, telegramID)
	if err != nil {
		return err
	}
	if u.ID != req.UserID {
		return domain.ErrForbidden
	}
	return nil
}
