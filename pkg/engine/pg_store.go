package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursekit/notify/pkg/notification"
)

// PGDeliveryStore is a Postgres DeliveryStore backed by a pgx pool.
//
// Expected schema:
//
//	CREATE TABLE deliveries (
//	    id             TEXT PRIMARY KEY,
//	    user_id        TEXT NOT NULL,
//	    channel        TEXT NOT NULL,
//	    category       TEXT NOT NULL,
//	    priority       TEXT NOT NULL,
//	    status         TEXT NOT NULL,
//	    content        JSONB NOT NULL,
//	    campaign_id    TEXT NOT NULL DEFAULT '',
//	    message_id     TEXT NOT NULL DEFAULT '',
//	    scheduled_at   TIMESTAMPTZ NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    sent_at        TIMESTAMPTZ,
//	    delivered_at   TIMESTAMPTZ,
//	    opened_at      TIMESTAMPTZ,
//	    clicked_at     TIMESTAMPTZ,
//	    failure_reason TEXT NOT NULL DEFAULT '',
//	    retry_count    INT NOT NULL DEFAULT 0,
//	    expires_at     TIMESTAMPTZ
//	);
//	CREATE INDEX deliveries_user_idx ON deliveries (user_id, created_at DESC);
type PGDeliveryStore struct {
	pool *pgxpool.Pool
}

// NewPGDeliveryStore creates a Postgres-backed delivery store.
func NewPGDeliveryStore(pool *pgxpool.Pool) (*PGDeliveryStore, error) {
	if pool == nil {
		return nil, ErrStorageNil
	}
	return &PGDeliveryStore{pool: pool}, nil
}

const deliveryColumns = `id, user_id, channel, category, priority, status, content,
	campaign_id, message_id, scheduled_at, created_at, sent_at, delivered_at,
	opened_at, clicked_at, failure_reason, retry_count, expires_at`

func (s *PGDeliveryStore) Create(ctx context.Context, d *notification.Delivery) error {
	content, err := json.Marshal(d.Content)
	if err != nil {
		return fmt.Errorf("failed to encode delivery content: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		d.ID, d.UserID, d.Channel, d.Category, d.Priority, d.Status, content,
		d.CampaignID, d.MessageID, d.ScheduledAt, d.CreatedAt, d.SentAt, d.DeliveredAt,
		d.OpenedAt, d.ClickedAt, d.FailureReason, d.RetryCount, d.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery %s: %w", d.ID, err)
	}
	return nil
}

func (s *PGDeliveryStore) GetByID(ctx context.Context, id string) (*notification.Delivery, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("failed to load delivery %s: %w", id, err)
	}
	return d, nil
}

func (s *PGDeliveryStore) Update(ctx context.Context, d *notification.Delivery) error {
	content, err := json.Marshal(d.Content)
	if err != nil {
		return fmt.Errorf("failed to encode delivery content: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE deliveries SET
			status = $2, content = $3, message_id = $4, sent_at = $5,
			delivered_at = $6, opened_at = $7, clicked_at = $8,
			failure_reason = $9, retry_count = $10
		WHERE id = $1`,
		d.ID, d.Status, content, d.MessageID, d.SentAt,
		d.DeliveredAt, d.OpenedAt, d.ClickedAt,
		d.FailureReason, d.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (s *PGDeliveryStore) List(ctx context.Context, opts ListOptions) ([]notification.Delivery, error) {
	where, args := buildDeliveryFilter(opts)

	query := `SELECT ` + deliveryColumns + ` FROM deliveries` + where +
		` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var out []notification.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PGDeliveryStore) Count(ctx context.Context, opts ListOptions) (int, error) {
	where, args := buildDeliveryFilter(opts)

	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deliveries`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}

func buildDeliveryFilter(opts ListOptions) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if opts.UserID != "" {
		add("user_id", opts.UserID)
	}
	if opts.Channel != "" {
		add("channel", opts.Channel)
	}
	if opts.Category != "" {
		add("category", opts.Category)
	}
	if opts.Status != "" {
		add("status", opts.Status)
	}
	if opts.CampaignID != "" {
		add("campaign_id", opts.CampaignID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanDelivery(row pgx.Row) (*notification.Delivery, error) {
	var (
		d       notification.Delivery
		content []byte
	)
	err := row.Scan(
		&d.ID, &d.UserID, &d.Channel, &d.Category, &d.Priority, &d.Status, &content,
		&d.CampaignID, &d.MessageID, &d.ScheduledAt, &d.CreatedAt, &d.SentAt, &d.DeliveredAt,
		&d.OpenedAt, &d.ClickedAt, &d.FailureReason, &d.RetryCount, &d.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &d.Content); err != nil {
		return nil, fmt.Errorf("failed to decode delivery content: %w", err)
	}
	return &d, nil
}
