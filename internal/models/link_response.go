package models

import "time"

// CreateLinkResponse represents the response after creating a short link
type CreateLinkResponse struct {
	ShortCode   string     `json:"short_code"`
	CustomAlias *string    `json:"custom_alias,omitempty"`
	OriginalURL string     `json:"original_url"`
	ShortURL    string     `json:"short_url"` // Full short URL (base URL + short code)
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// LinkStatsResponse represents the response for link statistics
type LinkStatsResponse struct {
	ShortCode   string     `json:"short_code"`
	CustomAlias *string    `json:"custom_alias,omitempty"`
	OriginalURL string     `json:"original_url"`
	Clicks      int        `json:"clicks"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}
