package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/storage"
)

// CreateUser inserts a new user and its aliases.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, email, display_name) VALUES (?, ?, ?)",
		user.ID, user.Email, user.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	for _, alias := range user.Aliases {
		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO user_aliases (user_id, alias) VALUES (?, ?)",
			user.ID, alias,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user alias: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by their ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, display_name FROM users WHERE id = ?",
		id,
	).Scan(&user.ID, &user.Email, &user.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	aliases, err := s.aliasesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Aliases = aliases
	return user, nil
}

// ListUsers returns every user ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, email, display_name FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(&user.ID, &user.Email, &user.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	rows.Close()

	for _, user := range users {
		if user.Aliases, err = s.aliasesOf(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *SQLiteStore) aliasesOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT alias FROM user_aliases WHERE user_id = ? ORDER BY alias",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get user aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate aliases: %w", err)
	}
	return aliases, nil
}
