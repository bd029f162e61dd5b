package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wakeline/pkg/models"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, name, email, timezone, call_window_start, push_token, push_platform,
	push_is_voip, subscription_active, onboarding_complete`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var email, timezone, window, token, platform sql.NullString
	var isVoip sql.NullBool

	err := row.Scan(
		&u.ID, &u.Name, &email, &timezone, &window, &token, &platform,
		&isVoip, &u.SubscriptionActive, &u.OnboardingComplete,
	)
	if err != nil {
		return models.User{}, err
	}

	u.Email = email.String
	u.Timezone = timezone.String
	u.CallWindowStart = window.String

	// A token without a platform predates typed registration.
	if token.Valid && token.String != "" {
		if platform.Valid && platform.String != "" {
			u.PushToken = &models.PushToken{
				DeviceToken:   token.String,
				Platform:      models.Platform(platform.String),
				IsWakeChannel: isVoip.Valid && isVoip.Bool,
			}
		} else {
			u.LegacyPushToken = token.String
		}
	}
	return u, nil
}

// ActiveUsers returns users with an active subscription.
func (db *DB) ActiveUsers(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE subscription_active = true
		ORDER BY id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *DB) GetUser(ctx context.Context, id string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}
