package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, telegram_id, username, referral_code, referrer_id, is_admin, is_banned, registered_at, last_active_at`

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (
  id, telegram_id, username, referral_code, referrer_id, is_admin, is_banned, registered_at, last_active_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id) DO UPDATE SET
  username=$3, referrer_id=$5, is_admin=$6, is_banned=$7, last_active_at=$9;
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q, u.ID, u.TelegramID, u.Username, u.ReferralCode, u.ReferrerID, u.IsAdmin, u.IsBanned, u.RegisteredAt, u.LastActiveAt)
	return err
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.ReferralCode, &u.ReferrerID, &u.IsAdmin, &u.IsBanned, &u.RegisteredAt, &u.LastActiveAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PostgresUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	return scanUser(pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1;`, tgID))
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return scanUser(pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id=$1;`, id))
}

func (r *PostgresUserRepo) FindByReferralCode(ctx context.Context, tx repository.Tx, code string) (*model.User, error) {
	return scanUser(pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE referral_code=$1;`, code))
}

func (r *PostgresUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	row := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM users;`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (r *PostgresUserRepo) ListAdmins(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT `+userColumns+` FROM users WHERE is_admin AND NOT is_banned;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.Username, &u.ReferralCode, &u.ReferrerID, &u.IsAdmin, &u.IsBanned, &u.RegisteredAt, &u.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// cohortPredicate builds the WHERE clause for a broadcast filter. Every
// cohort excludes banned users. bindsNow reports whether the predicate
// consumes the reference time as $1; the ledger-based filters do not.
func cohortPredicate(filter model.BroadcastFilter) (pred string, bindsNow bool, err error) {
	switch filter {
	case model.FilterAll:
		return ``, false, nil
	case model.FilterActive7d:
		return ` AND u.last_active_at >= $1 - interval '7 days'`, true, nil
	case model.FilterActive30d:
		return ` AND u.last_active_at >= $1 - interval '30 days'`, true, nil
	case model.FilterNewUsers7d:
		return ` AND u.registered_at >= $1 - interval '7 days'`, true, nil
	case model.FilterWithBalance:
		return ` AND (SELECT COALESCE(SUM(e.amount),0) FROM ledger_entries e WHERE e.user_id = u.id) > 0`, false, nil
	case model.FilterPaidUsers:
		return ` AND EXISTS (SELECT 1 FROM ledger_entries e WHERE e.user_id = u.id AND e.entry_type = 'deposit')`, false, nil
	default:
		return ``, false, domain.ErrInvalidArgument
	}
}

func (r *PostgresUserRepo) ResolveCohort(ctx context.Context, tx repository.Tx, filter model.BroadcastFilter, now time.Time) ([]model.CohortMember, error) {
	pred, bindsNow, err := cohortPredicate(filter)
	if err != nil {
		return nil, err
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT u.id, u.telegram_id FROM users u WHERE NOT u.is_banned` + pred + ` ORDER BY u.registered_at;`
	var rows pgx.Rows
	if bindsNow {
		rows, err = ex.Query(ctx, q, now)
	} else {
		rows, err = ex.Query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CohortMember
	for rows.Next() {
		var m model.CohortMember
		if err := rows.Scan(&m.UserID, &m.TelegramID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresUserRepo) CountCohort(ctx context.Context, tx repository.Tx, filter model.BroadcastFilter, now time.Time) (int, error) {
	pred, bindsNow, err := cohortPredicate(filter)
	if err != nil {
		return 0, err
	}
	q := `SELECT COUNT(*) FROM users u WHERE NOT u.is_banned` + pred + `;`
	var row pgx.Row
	if bindsNow {
		row = pickRow(ctx, r.pool, tx, q, now)
	} else {
		row = pickRow(ctx, r.pool, tx, q)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count cohort: %w", err)
	}
	return n, nil
}
