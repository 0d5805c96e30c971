package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
)

const userColumns = `id, email, name, created_at, updated_at, version`

func scanUserRow(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func CreateUser(ctx context.Context, db *sql.DB, email, name string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("create user: invalid email")
	}

	user, err := scanUserRow(db.QueryRowContext(ctx,
		`INSERT INTO users (email, name, created_at, updated_at, version)
		 VALUES ($1, $2, NOW(), NOW(), 1)
		 RETURNING `+userColumns,
		email, name))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id int64) (*models.User, error) {
	return scanUserRow(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}
