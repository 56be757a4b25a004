package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/worktrack/modules/notification/services"
	"github.com/iota-uz/worktrack/pkg/composables"
)

const (
	insertNotificationQuery = `
		INSERT INTO notifications (user_id, kind, message, task_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, kind, message, task_id, created_at, read_at`

	listNotificationsQuery = `
		SELECT id, user_id, kind, message, task_id, created_at, read_at
		FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR read_at IS NULL)
		ORDER BY id DESC`

	selectNotificationQuery = `
		SELECT id, user_id, kind, message, task_id, created_at, read_at
		FROM notifications
		WHERE id = $1`

	markReadQuery = `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING id, user_id, kind, message, task_id, created_at, read_at`
)

type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) Insert(ctx context.Context, n services.Notification) (services.Notification, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Notification{}, err
	}
	return scanNotification(tx.QueryRow(ctx, insertNotificationQuery,
		n.UserID, n.Kind, n.Message, n.TaskID))
}

func (s *PGStore) ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]services.Notification, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listNotificationsQuery, userID, unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PGStore) Get(ctx context.Context, id int64) (services.Notification, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Notification{}, err
	}
	n, err := scanNotification(tx.QueryRow(ctx, selectNotificationQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Notification{}, services.ErrNotFound
	}
	return n, err
}

func (s *PGStore) MarkRead(ctx context.Context, id int64, at time.Time) (services.Notification, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Notification{}, err
	}
	n, err := scanNotification(tx.QueryRow(ctx, markReadQuery, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Notification{}, services.ErrNotFound
	}
	return n, err
}

func scanNotification(row pgx.Row) (services.Notification, error) {
	var n services.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.TaskID, &n.CreatedAt, &n.ReadAt)
	return n, err
}
