package usecase

import (
	"context"
	"fmt"
	"time"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/ports/adapter"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// BalanceCache is the soft-state cache for the upstream account balance.
// Cache loss is correctness-neutral: a miss just means one origin call.
type BalanceCache interface {
	Get(ctx context.Context) (balance float64, ok bool, err error)
	Set(ctx context.Context, balance float64) error
}

// DedupLocker gates one-shot side effects behind a short-lived lock.
type DedupLocker interface {
	AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ProviderGate is the admission precondition: generations are rejected while
// the upstream balance sits below the configured threshold.
type ProviderGate interface {
	Check(ctx context.Context) error
}

type providerGate struct {
	client       adapter.ProviderClient
	cache        BalanceCache
	locker       DedupLocker
	users        repository.UserRepository
	bot          adapter.TelegramBotAdapter
	minBalance   float64
	alertLockTTL time.Duration
	log          *zerolog.Logger
}

const balanceAlertLockKey = "provider:balance_alert"

func NewProviderGate(
	client adapter.ProviderClient,
	cache BalanceCache,
	locker DedupLocker,
	users repository.UserRepository,
	bot adapter.TelegramBotAdapter,
	minBalance float64,
	alertLockTTL time.Duration,
	logger *zerolog.Logger,
) ProviderGate {
	l := logger.With().Str("component", "ProviderGate").Logger()
	return &providerGate{
		client:       client,
		cache:        cache,
		locker:       locker,
		users:        users,
		bot:          bot,
		minBalance:   minBalance,
		alertLockTTL: alertLockTTL,
		log:          &l,
	}
}

func (g *providerGate) Check(ctx context.Context) error {
	bal, ok, err := g.cache.Get(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("balance cache read failed")
		ok = false
	}
	if !ok {
		bal, err = g.client.Balance(ctx)
		if err != nil {
			// Unknown balance must not block admission.
			g.log.Warn().Err(err).Msg("upstream balance query failed; gate open")
			return nil
		}
		if err := g.cache.Set(ctx, bal); err != nil {
			g.log.Warn().Err(err).Msg("balance cache write failed")
		}
	}
	if bal >= g.minBalance {
		return nil
	}
	metrics.IncProviderGateReject()
	g.alertAdmins(ctx, bal)
	return &domain.ProviderBalanceLowError{Balance: bal, Threshold: g.minBalance}
}

// alertAdmins notifies every admin once per dedup window so a burst of
// rejected submissions does not flood them.
func (g *providerGate) alertAdmins(ctx context.Context, bal float64) {
	acquired, err := g.locker.AcquireOnce(ctx, balanceAlertLockKey, g.alertLockTTL)
	if err != nil {
		g.log.Warn().Err(err).Msg("alert dedup lock failed")
		return
	}
	if !acquired {
		return
	}
	admins, err := g.users.ListAdmins(ctx, repository.NoTX)
	if err != nil {
		g.log.Error().Err(err).Msg("list admins for balance alert")
		return
	}
	text := fmt.Sprintf("⚠️ Provider balance low: %.2f (threshold %.2f). Generations are paused.", bal, g.minBalance)
	for _, a := range admins {
		if err := g.bot.SendMessage(ctx, a.TelegramID, text); err != nil {
			g.log.Warn().Err(err).Int64("tg_id", a.TelegramID).Msg("balance alert send failed")
		}
	}
	g.log.Warn().Float64("balance", bal).Float64("threshold", g.minBalance).Int("admins", len(admins)).Msg("low balance alert sent")
}
