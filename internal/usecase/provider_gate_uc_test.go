//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

type gateEnv struct {
	client *mockProviderClient
	cache  *memBalanceCache
	locker *memLocker
	users  *memUserRepo
	bot    *mockBot
	uc     ProviderGate
}

func newGateEnv(t *testing.T, minBalance float64) *gateEnv {
	t.Helper()
	env := &gateEnv{
		client: &mockProviderClient{},
		cache:  &memBalanceCache{},
		locker: newMemLocker(),
		users:  newMemUserRepo(),
		bot:    newMockBot(),
	}
	env.uc = NewProviderGate(env.client, env.cache, env.locker, env.users, env.bot, minBalance, time.Hour, newTestLogger())
	return env
}

func (env *gateEnv) seedAdmin(t *testing.T, tgID int64) {
	t.Helper()
	u, err := model.NewUser("", tgID, "admin")
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	u.IsAdmin = true
	if err := env.users.Save(context.Background(), repository.NoTX, u); err != nil {
		t.Fatalf("save admin: %v", err)
	}
}

func TestProviderGate_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy balance passes and warms the cache", func(t *testing.T) {
		// Arrange
		env := newGateEnv(t, 5)
		env.client.balance = 42

		// Act
		if err := env.uc.Check(ctx); err != nil {
			t.Fatalf("check: %v", err)
		}

		// Assert
		if env.client.calls != 1 {
			t.Errorf("origin calls = %d, want 1", env.client.calls)
		}
		if got, ok, _ := env.cache.Get(ctx); !ok || got != 42 {
			t.Errorf("cache = %v/%v, want 42/true", got, ok)
		}
	})

	t.Run("cache hit skips the origin", func(t *testing.T) {
		// Arrange
		env := newGateEnv(t, 5)
		env.cache.Set(ctx, 42)

		// Act
		if err := env.uc.Check(ctx); err != nil {
			t.Fatalf("check: %v", err)
		}

		// Assert
		if env.client.calls != 0 {
			t.Errorf("origin calls = %d, want 0", env.client.calls)
		}
	})

	t.Run("low balance rejects with threshold details", func(t *testing.T) {
		// Arrange
		env := newGateEnv(t, 5)
		env.client.balance = 1.5

		// Act
		err := env.uc.Check(ctx)

		// Assert
		var lowErr *domain.ProviderBalanceLowError
		if !errors.As(err, &lowErr) {
			t.Fatalf("err = %v, want ProviderBalanceLowError", err)
		}
		if lowErr.Balance != 1.5 || lowErr.Threshold != 5 {
			t.Errorf("details = %.1f/%.1f, want 1.5/5", lowErr.Balance, lowErr.Threshold)
		}
	})

	t.Run("admins are alerted once per dedup window", func(t *testing.T) {
		// Arrange
		env := newGateEnv(t, 5)
		env.client.balance = 1
		env.seedAdmin(t, 900)
		env.seedAdmin(t, 901)

		// Act: a burst of rejected admissions.
		for i := 0; i < 5; i++ {
			env.uc.Check(ctx)
		}

		// Assert: one alert per admin, not per rejection.
		if got := env.bot.messageCount(); got != 2 {
			t.Errorf("alerts sent = %d, want 2", got)
		}
	})

	t.Run("unknown balance keeps the gate open", func(t *testing.T) {
		// Arrange
		env := newGateEnv(t, 5)
		env.client.balanceErr = errors.New("upstream down")

		// Act + Assert
		if err := env.uc.Check(ctx); err != nil {
			t.Errorf("check = %v, want nil (fail open)", err)
		}
	})
}
