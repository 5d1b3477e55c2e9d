package models

import "encoding/json"

// CreateLinkRequest represents the request body for creating a short link
type CreateLinkRequest struct {
	URL              string  `json:"url" binding:"required,url"` // Gin validation: required and must be valid URL
	CustomAlias      *string `json:"custom_alias,omitempty"`     // Optional user-chosen alias
	ExpiresInMinutes *int    `json:"expires_in_minutes,omitempty" binding:"omitempty,min=1"`
}

// UpdateLinkRequest represents the request body for editing a link.
// expires_at is tri-state: absent keeps the current expiry, explicit null
// clears it, an ISO 8601 string sets it. RawMessage preserves the
// absent-vs-null distinction that a plain pointer would lose.
type UpdateLinkRequest struct {
	URL       *string         `json:"url,omitempty" binding:"omitempty,url"`
	ExpiresAt json.RawMessage `json:"expires_at,omitempty"`
}
