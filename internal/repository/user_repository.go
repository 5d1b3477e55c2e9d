package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"linkly-be/internal/entities"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// UserRepository defines the interface for user database operations
type UserRepository interface {
	Create(email, passwordHash string, name *string) (*entities.User, error)
	FindByEmail(email string) (*entities.User, error)
	FindByID(id string) (*entities.User, error)
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func scanUser(row *sql.Row) (*entities.User, error) {
	var user entities.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// Create inserts a new user into the database
func (r *userRepository) Create(email, passwordHash string, name *string) (*entities.User, error) {
	query := `
		INSERT INTO users (email, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, name, created_at, updated_at
	`

	user, err := scanUser(r.db.QueryRow(query, email, passwordHash, name))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// FindByEmail finds a user by email
func (r *userRepository) FindByEmail(email string) (*entities.User, error) {
	query := `
		SELECT id, email, password_hash, name, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	return scanUser(r.db.QueryRow(query, email))
}

// FindByID finds a user by ID (UUID)
func (r *userRepository) FindByID(id string) (*entities.User, error) {
	query := `
		SELECT id, email, password_hash, name, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return scanUser(r.db.QueryRow(query, id))
}
