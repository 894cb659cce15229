package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

const userColumns = `id, username, password_hash, email, first_name, last_name, is_admin, created_at, updated_at`

// CreateUser creates a new, non-admin user. passwordHash must already be
// hashed. Usernames are unique regardless of case.
func (d *DB) CreateUser(ctx context.Context, username, passwordHash, email, firstName, lastName string) (int, error) {
	ts := now()
	query := `
		INSERT INTO users (username, password_hash, email, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := d.db.ExecContext(ctx, query, username, passwordHash, email, firstName, lastName, ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("username %q: %w", username, ErrDuplicate)
		}
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	return int(id), nil
}

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var email, firstName, lastName sql.NullString

	err := row.Scan(
		&user.ID, &user.Username, &user.Password, &email,
		&firstName, &lastName, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Handle NULL columns
	user.Email = email.String
	user.FirstName = firstName.String
	user.LastName = lastName.String

	return user, nil
}

// GetUserByUsername returns a user (with password hash) by username
func (d *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`

	user, err := scanUser(d.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// GetUserByID returns a user by ID
func (d *DB) GetUserByID(ctx context.Context, userID int) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(d.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// GetAllUsers returns all users
func (d *DB) GetAllUsers(ctx context.Context) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}

	return users, rows.Err()
}

// DeleteUser deletes a user by ID. Datasets and their rows go with it
// through the foreign key cascade.
func (d *DB) DeleteUser(ctx context.Context, userID int) (bool, error) {
	query := `DELETE FROM users WHERE id = ?`
	result, err := d.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// UserExists checks if a user exists by username
func (d *DB) UserExists(ctx context.Context, username string) (bool, error) {
	query := `SELECT 1 FROM users WHERE username = ?`
	var exists int
	err := d.db.QueryRowContext(ctx, query, username).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
