package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

var _ repository.BroadcastRepository = (*PostgresBroadcastRepo)(nil)

type PostgresBroadcastRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresBroadcastRepo(pool *pgxpool.Pool) *PostgresBroadcastRepo {
	return &PostgresBroadcastRepo{pool: pool}
}

const broadcastColumns = `id, admin_id, content_type, text, media_file_id, button_text, button_url, filter,
  status, total_users, sent_count, failed_count, blocked_count, created_at, started_at, completed_at`

func (r *PostgresBroadcastRepo) Save(ctx context.Context, tx repository.Tx, b *model.Broadcast) error {
	const q = `
INSERT INTO broadcasts (
  id, admin_id, content_type, text, media_file_id, button_text, button_url, filter,
  status, total_users, sent_count, failed_count, blocked_count, created_at, started_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
) ON CONFLICT (id) DO UPDATE SET
  status=$9, total_users=$10, started_at=$15, completed_at=$16;
`
	var btnText, btnURL string
	if b.Button != nil {
		btnText, btnURL = b.Button.Text, b.Button.URL
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q,
		b.ID, b.AdminID, string(b.ContentType), b.Text, b.MediaFileID, btnText, btnURL, string(b.Filter),
		string(b.Status), b.TotalUsers, b.SentCount, b.FailedCount, b.BlockedCount, b.CreatedAt, b.StartedAt, b.CompletedAt,
	)
	return err
}

func scanBroadcast(row pgx.Row) (*model.Broadcast, error) {
	var b model.Broadcast
	var ct, filter, status, btnText, btnURL string
	if err := row.Scan(
		&b.ID, &b.AdminID, &ct, &b.Text, &b.MediaFileID, &btnText, &btnURL, &filter,
		&status, &b.TotalUsers, &b.SentCount, &b.FailedCount, &b.BlockedCount, &b.CreatedAt, &b.StartedAt, &b.CompletedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	b.ContentType = model.BroadcastContentType(ct)
	b.Filter = model.BroadcastFilter(filter)
	b.Status = model.BroadcastStatus(status)
	if btnText != "" && btnURL != "" {
		b.Button = &model.BroadcastButton{Text: btnText, URL: btnURL}
	}
	return &b, nil
}

func (r *PostgresBroadcastRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Broadcast, error) {
	return scanBroadcast(pickRow(ctx, r.pool, tx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id=$1;`, id))
}

func (r *PostgresBroadcastRepo) List(ctx context.Context, tx repository.Tx, limit int) ([]*model.Broadcast, error) {
	if limit <= 0 {
		limit = 20
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT `+broadcastColumns+` FROM broadcasts ORDER BY created_at DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// IncrementCounter bumps the counter matching the delivery outcome in one
// statement. Concurrent workers therefore never overwrite each other's counts.
func (r *PostgresBroadcastRepo) IncrementCounter(ctx context.Context, tx repository.Tx, broadcastID string, status model.RecipientStatus) error {
	var col string
	switch status {
	case model.RecipientSent:
		col = "sent_count"
	case model.RecipientFailed:
		col = "failed_count"
	case model.RecipientBlocked:
		col = "blocked_count"
	default:
		return fmt.Errorf("%w: recipient status %q", domain.ErrInvalidArgument, status)
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, `UPDATE broadcasts SET `+col+` = `+col+` + 1 WHERE id=$1;`, broadcastID)
	return err
}

func (r *PostgresBroadcastRepo) MarkCompleted(ctx context.Context, tx repository.Tx, broadcastID string) (bool, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	tag, err := ex.Exec(ctx,
		`UPDATE broadcasts SET status='completed', completed_at=NOW() WHERE id=$1 AND status='running';`,
		broadcastID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresBroadcastRepo) SaveRecipient(ctx context.Context, tx repository.Tx, rec *model.BroadcastRecipient) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, `
INSERT INTO broadcast_recipients (id, broadcast_id, user_id, telegram_id, status, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (broadcast_id, user_id) DO UPDATE SET status=$5, error_message=$6;`,
		rec.ID, rec.BroadcastID, rec.UserID, rec.TelegramID, string(rec.Status), rec.ErrorMessage, rec.CreatedAt)
	return err
}

func (r *PostgresBroadcastRepo) ListRecipients(ctx context.Context, tx repository.Tx, broadcastID string, limit int) ([]*model.BroadcastRecipient, error) {
	if limit <= 0 {
		limit = 100
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `
SELECT id, broadcast_id, user_id, telegram_id, status, error_message, created_at
FROM broadcast_recipients WHERE broadcast_id=$1 ORDER BY created_at LIMIT $2;`, broadcastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.BroadcastRecipient
	for rows.Next() {
		var rec model.BroadcastRecipient
		var status string
		if err := rows.Scan(&rec.ID, &rec.BroadcastID, &rec.UserID, &rec.TelegramID, &status, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = model.RecipientStatus(status)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
