package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/minhvo/go-shop-core/internal/models"
)

// Notify inserts a notification for a user. It is fire-and-forget: it runs on
// its own short-lived context after the triggering transaction has committed,
// and a failure is logged, never propagated. A lost notification must not
// fail an order.
func Notify(db *sql.DB, userID int64, ntype, title, message string, data map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if data == nil {
		data = map[string]string{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("encode notification data: %v", err)
		return
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, type, title, message, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		userID, ntype, title, message, raw)
	if err != nil {
		log.Printf("notify user %d: %v", userID, err)
	}
}

func ListNotifications(ctx context.Context, db *sql.DB, userID int64, limit int) ([]models.Notification, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, type, title, message, data, is_read, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var raw []byte
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Type,
			&n.Title,
			&n.Message,
			&raw,
			&n.IsRead,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification data: %w", err)
			}
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return notifications, nil
}
