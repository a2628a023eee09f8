package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weqory/alertengine/pkg/errors"
)

// UserStore is the engine's read-only view of the User table (§6: "read
// only from the core"): it exists solely to resolve a user's linked
// Telegram chat for the messenger dispatcher.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// TelegramChatID returns the user's linked chat ID, or "" if the user
// has none linked.
func (s *UserStore) TelegramChatID(ctx context.Context, userID int64) (string, error) {
	var chatID *string
	err := s.pool.QueryRow(ctx, `SELECT telegram_chat_id FROM users WHERE id = $1`, userID).Scan(&chatID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", errors.ErrUserNotFound
		}
		return "", err
	}
	if chatID == nil {
		return "", nil
	}
	return *chatID, nil
}
