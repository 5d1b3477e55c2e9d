package repository

import (
	"database/sql"
	"fmt"
	"time"

	"linkly-be/internal/entities"
)

// LinkRepository defines the interface for link database operations
type LinkRepository interface {
	Create(shortCode string, customAlias *string, originalURL string, userID *string, expiresAt *time.Time) (*entities.Link, error)
	// FindByAliasOrCode matches token against both the short_code and
	// custom_alias namespaces. Expired rows are returned as-is; expiry is
	// the caller's concern.
	FindByAliasOrCode(token string) (*entities.Link, error)
	FindByID(id string) (*entities.Link, error)
	IncrementClicks(token string) error
	Update(id string, originalURL string, expiresAt *time.Time) (*entities.Link, error)
	Delete(id string) error
	DeleteExpiredBefore(t time.Time) (int64, error)
	GetByUserID(userID string) ([]*entities.Link, error)
}

type linkRepository struct {
	db *sql.DB
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *sql.DB) LinkRepository {
	return &linkRepository{db: db}
}

const linkColumns = `id, short_code, custom_alias, original_url, user_id, clicks, created_at, expires_at`

func scanLink(row *sql.Row) (*entities.Link, error) {
	var link entities.Link
	err := row.Scan(
		&link.ID,
		&link.ShortCode,
		&link.CustomAlias,
		&link.OriginalURL,
		&link.UserID,
		&link.Clicks,
		&link.CreatedAt,
		&link.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}
	return &link, nil
}

// Create inserts a new link into the database
func (r *linkRepository) Create(shortCode string, customAlias *string, originalURL string, userID *string, expiresAt *time.Time) (*entities.Link, error) {
	// Ensure expiresAt is stored in UTC
	var expiresAtValue interface{}
	if expiresAt != nil {
		utcTime := expiresAt.UTC()
		expiresAtValue = utcTime
	}

	query := `
		INSERT INTO links (short_code, custom_alias, original_url, user_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + linkColumns

	link, err := scanLink(r.db.QueryRow(query, shortCode, customAlias, originalURL, userID, expiresAtValue))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	return link, nil
}

// FindByAliasOrCode finds a link whose short code or custom alias equals token
func (r *linkRepository) FindByAliasOrCode(token string) (*entities.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE short_code = $1 OR custom_alias = $1
	`
	return scanLink(r.db.QueryRow(query, token))
}

// FindByID finds a link by its ID (UUID)
func (r *linkRepository) FindByID(id string) (*entities.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE id = $1
	`
	return scanLink(r.db.QueryRow(query, id))
}

// IncrementClicks atomically increments the click counter for a link
func (r *linkRepository) IncrementClicks(token string) error {
	result, err := r.db.Exec(`
		UPDATE links
		SET clicks = clicks + 1
		WHERE short_code = $1 OR custom_alias = $1
	`, token)
	if err != nil {
		return fmt.Errorf("failed to increment clicks: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Update sets the destination URL and expiry of a link. A nil expiresAt
// clears the expiration (the link never expires).
func (r *linkRepository) Update(id string, originalURL string, expiresAt *time.Time) (*entities.Link, error) {
	var expiresAtValue interface{}
	if expiresAt != nil {
		utcTime := expiresAt.UTC()
		expiresAtValue = utcTime
	}

	query := `
		UPDATE links
		SET original_url = $1, expires_at = $2
		WHERE id = $3
		RETURNING ` + linkColumns

	return scanLink(r.db.QueryRow(query, originalURL, expiresAtValue, id))
}

// Delete removes a link from the database
func (r *linkRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteExpiredBefore removes all links whose expiry is before t and returns
// the number of rows deleted. Links without an expiry are never touched.
func (r *linkRepository) DeleteExpiredBefore(t time.Time) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM links
		WHERE expires_at IS NOT NULL AND expires_at < $1
	`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired links: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}

// GetByUserID retrieves all links for a specific user, newest first
func (r *linkRepository) GetByUserID(userID string) ([]*entities.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get links: %w", err)
	}
	defer rows.Close()

	var links []*entities.Link
	for rows.Next() {
		var link entities.Link
		err := rows.Scan(
			&link.ID,
			&link.ShortCode,
			&link.CustomAlias,
			&link.OriginalURL,
			&link.UserID,
			&link.Clicks,
			&link.CreatedAt,
			&link.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, &link)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}
