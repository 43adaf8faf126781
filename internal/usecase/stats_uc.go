package usecase

import (
	"context"

	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

// Stats is the read-only snapshot served to the admin dashboard.
type Stats struct {
	TotalUsers          int
	GenerationsByStatus map[model.RequestStatus]int
	CreditsDeposited    int64
	CreditsCharged      int64
	CreditsRefunded     int64
}

type StatsUseCase interface {
	Totals(ctx context.Context) (*Stats, error)
}

type statsUC struct {
	users    repository.UserRepository
	requests repository.GenerationRequestRepository
	ledger   repository.LedgerRepository
}

func NewStatsUseCase(users repository.UserRepository, requests repository.GenerationRequestRepository, ledger repository.LedgerRepository) StatsUseCase {
	return &statsUC{users: users, requests: requests, ledger: ledger}
}

func (uc *statsUC) Totals(ctx context.Context) (*Stats, error) {
	users, err := uc.users.CountUsers(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	byStatus, err := uc.requests.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	deposited, err := uc.ledger.SumByType(ctx, repository.NoTX, model.EntryDeposit)
	if err != nil {
		return nil, err
	}
	charged, err := uc.ledger.SumByType(ctx, repository.NoTX, model.EntryGenerationCharge)
	if err != nil {
		return nil, err
	}
	refunded, err := uc.ledger.SumByType(ctx, repository.NoTX, model.EntryGenerationRefund)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalUsers:          users,
		GenerationsByStatus: byStatus,
		CreditsDeposited:    deposited,
		CreditsCharged:      charged,
		CreditsRefunded:     refunded,
	}, nil
}
