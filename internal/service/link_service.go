package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"linkly-be/internal/cache"
	"linkly-be/internal/entities"
	"linkly-be/internal/models"
	"linkly-be/internal/repository"
)

const (
	codeAlphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 6
	maxCodeAttempts = 10

	linkKeyPrefix = "link:"
)

// cachedLink is the cache projection of a link: just enough to redirect and
// to reject expired entries without a store round trip. Never authoritative.
type cachedLink struct {
	OriginalURL string     `json:"original_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// LinkService defines the interface for link business logic
type LinkService interface {
	CreateLink(req *models.CreateLinkRequest, userID string, baseURL string) (*models.CreateLinkResponse, error)
	Resolve(token string) (string, error)
	GetLinkStats(id string, userID string) (*models.LinkStatsResponse, error)
	GetUserLinks(userID string) ([]*models.LinkStatsResponse, error)
	UpdateLink(id string, userID string, newURL *string, expiresAt *time.Time, updateExpiry bool) (*models.LinkStatsResponse, error)
	DeleteLink(id string, userID string) error
}

type linkService struct {
	repo            repository.LinkRepository
	cache           cache.Cache
	defaultCacheTTL time.Duration
	ctx             context.Context
	now             func() time.Time
}

// NewLinkService creates a new link service. cacheClient may be nil, in which
// case every resolution goes straight to the repository.
func NewLinkService(repo repository.LinkRepository, cacheClient cache.Cache, defaultCacheTTL time.Duration) LinkService {
	return &linkService{
		repo:            repo,
		cache:           cacheClient,
		defaultCacheTTL: defaultCacheTTL,
		ctx:             context.Background(),
		now:             time.Now,
	}
}

// Reserved aliases that would shadow API routes
var reservedAliases = map[string]bool{
	"api":      true,
	"health":   true,
	"auth":     true,
	"login":    true,
	"register": true,
	"shorten":  true,
	"links":    true,
	"qrcode":   true,
	"admin":    true,
	"www":      true,
}

var aliasPattern = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

// validateAlias validates a user-chosen alias
func validateAlias(alias string) error {
	if len(alias) < 3 {
		return fmt.Errorf("alias must be at least 3 characters long")
	}
	if len(alias) > 20 {
		return fmt.Errorf("alias must be at most 20 characters long")
	}
	if !aliasPattern.MatchString(alias) {
		return fmt.Errorf("alias can only contain letters, numbers, hyphens, and underscores")
	}
	if reservedAliases[strings.ToLower(alias)] {
		return fmt.Errorf("alias '%s' is reserved and cannot be used", alias)
	}
	return nil
}

// generateShortCode generates a random fixed-length alphanumeric code
func generateShortCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// errCodeTaken marks a lookup/insert collision on a generated code as retryable.
var errCodeTaken = errors.New("generated code already taken")

// createWithGeneratedCode looks up a free code and inserts, retrying up to
// maxCodeAttempts times. The store's unique index is the final arbiter: losing
// a lookup-then-insert race surfaces as a duplicate key and is retried the same
// way as a lookup collision.
func (s *linkService) createWithGeneratedCode(originalURL string, userID *string, expiresAt *time.Time) (*entities.Link, error) {
	var created *entities.Link

	// maxCodeAttempts total attempts: the initial try plus the retries
	backoff := retry.WithMaxRetries(maxCodeAttempts-1, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		code, err := generateShortCode()
		if err != nil {
			return err
		}

		if _, err := s.repo.FindByAliasOrCode(code); err == nil {
			return retry.RetryableError(errCodeTaken)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		link, err := s.repo.Create(code, nil, originalURL, userID, expiresAt)
		if errors.Is(err, repository.ErrDuplicateKey) {
			return retry.RetryableError(errCodeTaken)
		}
		if err != nil {
			return err
		}

		created = link
		return nil
	})
	if err != nil {
		if errors.Is(err, errCodeTaken) {
			return nil, ErrCodeExhausted
		}
		return nil, err
	}

	return created, nil
}

// createWithAlias checks the alias against the union of short codes and
// aliases and inserts. Collisions are never retried for explicit aliases.
func (s *linkService) createWithAlias(alias, originalURL string, userID *string, expiresAt *time.Time) (*entities.Link, error) {
	if err := validateAlias(alias); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByAliasOrCode(alias); err == nil {
		return nil, ErrAliasTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check alias availability: %w", err)
	}

	link, err := s.repo.Create(alias, &alias, originalURL, userID, expiresAt)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return nil, ErrAliasTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	return link, nil
}

// CreateLink creates a new short link
func (s *linkService) CreateLink(req *models.CreateLinkRequest, userID string, baseURL string) (*models.CreateLinkResponse, error) {
	var expiresAt *time.Time
	if req.ExpiresInMinutes != nil {
		t := s.now().Add(time.Duration(*req.ExpiresInMinutes) * time.Minute)
		expiresAt = &t
	}

	var link *entities.Link
	var err error
	if req.CustomAlias != nil && strings.TrimSpace(*req.CustomAlias) != "" {
		alias := strings.TrimSpace(*req.CustomAlias)
		link, err = s.createWithAlias(alias, req.URL, &userID, expiresAt)
	} else {
		link, err = s.createWithGeneratedCode(req.URL, &userID, expiresAt)
	}
	if err != nil {
		return nil, err
	}

	s.cacheLink(link)

	return &models.CreateLinkResponse{
		ShortCode:   link.ShortCode,
		CustomAlias: link.CustomAlias,
		OriginalURL: link.OriginalURL,
		ShortURL:    fmt.Sprintf("%s/%s", baseURL, link.ShortCode),
		ExpiresAt:   link.ExpiresAt,
		CreatedAt:   link.CreatedAt,
	}, nil
}

// cacheTTLFor computes how long a link may live in the cache. Links without
// an expiry get the default TTL; expiring links get the time remaining, which
// may be zero or negative, in which case the link must not be cached.
func (s *linkService) cacheTTLFor(link *entities.Link) time.Duration {
	if link.ExpiresAt == nil {
		return s.defaultCacheTTL
	}
	return link.ExpiresAt.Sub(s.now())
}

// cacheLink writes the cache projection of link, skipping entries whose
// computed TTL is not positive.
func (s *linkService) cacheLink(link *entities.Link) {
	if s.cache == nil {
		return
	}
	ttl := s.cacheTTLFor(link)
	if ttl <= 0 {
		return
	}
	key := linkKeyPrefix + link.ShortCode
	data := cachedLink{OriginalURL: link.OriginalURL, ExpiresAt: link.ExpiresAt}
	if err := s.cache.SetJSON(s.ctx, key, data, ttl); err != nil {
		log.Printf("Warning: failed to cache link %s: %v", link.ShortCode, err)
	}
}

// Resolve maps a short code or alias to its destination URL and accounts the
// click. Returns ErrNotFound or ErrExpired for dead tokens.
func (s *linkService) Resolve(token string) (string, error) {
	cacheKey := linkKeyPrefix + token

	// 1. Check cache
	if s.cache != nil {
		var cached cachedLink
		err := s.cache.GetJSON(s.ctx, cacheKey, &cached)
		if err == nil && cached.OriginalURL != "" {
			if cached.ExpiresAt != nil && cached.ExpiresAt.Before(s.now()) {
				// Logically dead even though the TTL has not evicted it yet
				return "", ErrExpired
			}

			// Fire-and-forget click increment; not tied to the request's
			// lifetime, errors logged and dropped
			go func() {
				if err := s.repo.IncrementClicks(token); err != nil {
					log.Printf("Warning: failed to increment clicks for %s: %v", token, err)
				}
			}()
			return cached.OriginalURL, nil
		}
		if err != nil && !errors.Is(err, cache.ErrKeyNotFound) {
			log.Printf("Warning: cache lookup failed for %s: %v", token, err)
		}
	}

	// 2. Check database
	link, err := s.repo.FindByAliasOrCode(token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up link: %w", err)
	}

	if link.Expired(s.now()) {
		return "", ErrExpired
	}

	// 3. Cache and account the click. This path already paid for a store
	// round trip, so the increment is awaited here.
	s.cacheLink(link)

	if err := s.repo.IncrementClicks(token); err != nil {
		log.Printf("Warning: failed to increment clicks for %s: %v", token, err)
	}

	return link.OriginalURL, nil
}

func statsResponse(link *entities.Link) *models.LinkStatsResponse {
	return &models.LinkStatsResponse{
		ShortCode:   link.ShortCode,
		CustomAlias: link.CustomAlias,
		OriginalURL: link.OriginalURL,
		Clicks:      link.Clicks,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
	}
}

// findOwned loads a link and enforces ownership
func (s *linkService) findOwned(id string, userID string) (*entities.Link, error) {
	link, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find link: %w", err)
	}
	if link.UserID == nil || *link.UserID != userID {
		return nil, ErrForbidden
	}
	return link, nil
}

// GetLinkStats retrieves statistics for a link owned by userID
func (s *linkService) GetLinkStats(id string, userID string) (*models.LinkStatsResponse, error) {
	link, err := s.findOwned(id, userID)
	if err != nil {
		return nil, err
	}
	return statsResponse(link), nil
}

// GetUserLinks retrieves all links for a specific user
func (s *linkService) GetUserLinks(userID string) ([]*models.LinkStatsResponse, error) {
	links, err := s.repo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*models.LinkStatsResponse, len(links))
	for i, link := range links {
		responses[i] = statsResponse(link)
	}
	return responses, nil
}

// UpdateLink edits the destination URL and/or expiry of a link owned by
// userID. When updateExpiry is false the current expiry is preserved;
// otherwise expiresAt replaces it, with nil meaning the link never expires.
// The cache entry is refreshed when the updated link is still cacheable and
// invalidated otherwise, so a stale expired projection can never outlive an
// edit.
func (s *linkService) UpdateLink(id string, userID string, newURL *string, expiresAt *time.Time, updateExpiry bool) (*models.LinkStatsResponse, error) {
	link, err := s.findOwned(id, userID)
	if err != nil {
		return nil, err
	}

	if updateExpiry {
		// Allow a 2-second buffer to account for network latency
		if expiresAt != nil && expiresAt.Before(s.now().Add(-2*time.Second)) {
			return nil, fmt.Errorf("expiration time cannot be in the past")
		}
	} else {
		expiresAt = link.ExpiresAt
	}

	originalURL := link.OriginalURL
	if newURL != nil && *newURL != "" {
		originalURL = *newURL
	}

	updated, err := s.repo.Update(id, originalURL, expiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update link: %w", err)
	}

	if s.cache != nil {
		key := linkKeyPrefix + updated.ShortCode
		if ttl := s.cacheTTLFor(updated); ttl > 0 {
			data := cachedLink{OriginalURL: updated.OriginalURL, ExpiresAt: updated.ExpiresAt}
			if err := s.cache.SetJSON(s.ctx, key, data, ttl); err != nil {
				log.Printf("Warning: failed to refresh cache for %s: %v", updated.ShortCode, err)
			}
		} else if err := s.cache.Delete(s.ctx, key); err != nil {
			log.Printf("Warning: failed to invalidate cache for %s: %v", updated.ShortCode, err)
		}
	}

	return statsResponse(updated), nil
}

// DeleteLink removes a link owned by userID and invalidates its cache entry
func (s *linkService) DeleteLink(id string, userID string) error {
	link, err := s.findOwned(id, userID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(s.ctx, linkKeyPrefix+link.ShortCode); err != nil {
			log.Printf("Warning: failed to invalidate cache for %s: %v", link.ShortCode, err)
		}
	}

	return nil
}
