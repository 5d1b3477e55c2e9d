package entities

import "time"

// Link represents a shortened link entity in the database
type Link struct {
	ID          string     `json:"id"` // UUID
	ShortCode   string     `json:"short_code"`
	CustomAlias *string    `json:"custom_alias,omitempty"` // Pointer allows nil (no alias chosen)
	OriginalURL string     `json:"original_url"`
	UserID      *string    `json:"user_id,omitempty"` // Pointer allows nil (for anonymous links), UUID
	Clicks      int        `json:"clicks"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // Pointer allows nil (no expiration)
}

// Expired reports whether the link's expiry, if set, is in the past.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}
