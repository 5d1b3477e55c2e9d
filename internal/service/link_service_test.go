package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"linkly-be/internal/cache"
	"linkly-be/internal/entities"
	"linkly-be/internal/models"
	"linkly-be/internal/repository"
)

// fakeLinkRepo is an in-memory stand-in for the Postgres repository. It
// enforces the same unique constraint across short codes and aliases.
type fakeLinkRepo struct {
	mu        sync.Mutex
	links     map[string]*entities.Link // keyed by id
	nextID    int
	findCalls int
	// failNextCreate forces one ErrDuplicateKey to simulate losing the
	// lookup-then-insert race.
	failNextCreate bool
	// collideAll makes every lookup see a taken token, to exercise the
	// allocator's attempt cap.
	collideAll bool
}

func newFakeLinkRepo() *fakeLinkRepo {
	return &fakeLinkRepo{links: make(map[string]*entities.Link)}
}

func (f *fakeLinkRepo) lookupByToken(token string) *entities.Link {
	for _, l := range f.links {
		if l.ShortCode == token || (l.CustomAlias != nil && *l.CustomAlias == token) {
			return l
		}
	}
	return nil
}

func (f *fakeLinkRepo) Create(shortCode string, customAlias *string, originalURL string, userID *string, expiresAt *time.Time) (*entities.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNextCreate {
		f.failNextCreate = false
		return nil, repository.ErrDuplicateKey
	}
	if f.lookupByToken(shortCode) != nil {
		return nil, repository.ErrDuplicateKey
	}
	if customAlias != nil && f.lookupByToken(*customAlias) != nil {
		return nil, repository.ErrDuplicateKey
	}

	f.nextID++
	link := &entities.Link{
		ID:          fmt.Sprintf("id-%d", f.nextID),
		ShortCode:   shortCode,
		CustomAlias: customAlias,
		OriginalURL: originalURL,
		UserID:      userID,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	f.links[link.ID] = link
	return link, nil
}

func (f *fakeLinkRepo) FindByAliasOrCode(token string) (*entities.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.findCalls++
	if f.collideAll {
		return &entities.Link{ShortCode: token}, nil
	}
	if l := f.lookupByToken(token); l != nil {
		cp := *l
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeLinkRepo) FindByID(id string) (*entities.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.links[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeLinkRepo) IncrementClicks(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l := f.lookupByToken(token); l != nil {
		l.Clicks++
		return nil
	}
	return repository.ErrNotFound
}

func (f *fakeLinkRepo) Update(id string, originalURL string, expiresAt *time.Time) (*entities.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	l.OriginalURL = originalURL
	l.ExpiresAt = expiresAt
	cp := *l
	return &cp, nil
}

func (f *fakeLinkRepo) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.links[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.links, id)
	return nil
}

func (f *fakeLinkRepo) DeleteExpiredBefore(t time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for id, l := range f.links {
		if l.ExpiresAt != nil && l.ExpiresAt.Before(t) {
			delete(f.links, id)
			count++
		}
	}
	return count, nil
}

func (f *fakeLinkRepo) GetByUserID(userID string) ([]*entities.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*entities.Link
	for _, l := range f.links {
		if l.UserID != nil && *l.UserID == userID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLinkRepo) clicks(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l := f.lookupByToken(token); l != nil {
		return l.Clicks
	}
	return 0
}

func (f *fakeLinkRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func newTestService(t *testing.T, repo *fakeLinkRepo) (*linkService, cache.Cache) {
	t.Helper()
	c := cache.NewMemoryCache()
	svc := NewLinkService(repo, c, time.Hour).(*linkService)
	return svc, c
}

func seedLink(t *testing.T, repo *fakeLinkRepo, code, url string, userID string, expiresAt *time.Time) *entities.Link {
	t.Helper()
	link, err := repo.Create(code, nil, url, &userID, expiresAt)
	if err != nil {
		t.Fatalf("seed link: %v", err)
	}
	return link
}

func TestResolveNeverExpiresRegardlessOfElapsedTime(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)
	seedLink(t, repo, "abc123", "https://example.com", "u1", nil)

	// Far in the future the link must still resolve
	svc.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }

	dest, err := svc.Resolve("abc123")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dest != "https://example.com" {
		t.Errorf("destination = %q, want https://example.com", dest)
	}
}

func TestResolveNotFound(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)

	_, err := svc.Resolve("nosuch")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve err = %v, want ErrNotFound", err)
	}
}

func TestResolveExpiredFromStore(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)
	past := time.Now().Add(-time.Minute)
	seedLink(t, repo, "dead01", "https://example.com", "u1", &past)

	_, err := svc.Resolve("dead01")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Resolve err = %v, want ErrExpired", err)
	}

	// No cache repopulation and no click accounting for expired links
	if ok, _ := c.Exists(context.Background(), "link:dead01"); ok {
		t.Error("expired link was cached")
	}
	if n := repo.clicks("dead01"); n != 0 {
		t.Errorf("clicks = %d, want 0", n)
	}
}

func TestResolveExpiredFromCacheSkipsStore(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)

	// Stale cache entry: past expiresAt, but TTL has not evicted it yet
	past := time.Now().Add(-time.Minute)
	entry := cachedLink{OriginalURL: "https://example.com", ExpiresAt: &past}
	if err := c.SetJSON(context.Background(), "link:stale1", entry, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	_, err := svc.Resolve("stale1")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Resolve err = %v, want ErrExpired", err)
	}
	if repo.findCalls != 0 {
		t.Errorf("store consulted %d times, want 0", repo.findCalls)
	}
}

func TestResolveCacheTTLBoundedByExpiry(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)
	soon := time.Now().Add(30 * time.Second)
	seedLink(t, repo, "soon01", "https://example.com", "u1", &soon)

	if _, err := svc.Resolve("soon01"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ttl, err := c.TTL(context.Background(), "link:soon01")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("cache TTL = %v, want in (0, 30s]", ttl)
	}
}

func TestResolveDefaultCacheTTLWithoutExpiry(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)
	seedLink(t, repo, "forever", "https://example.com", "u1", nil)

	if _, err := svc.Resolve("forever"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ttl, err := c.TTL(context.Background(), "link:forever")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 59*time.Minute || ttl > time.Hour {
		t.Errorf("cache TTL = %v, want about 1h", ttl)
	}
}

func TestConcurrentResolveClicksMonotonic(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)
	seedLink(t, repo, "hot001", "https://example.com", "u1", nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Resolve("hot001"); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	// Cache-hit increments are fire-and-forget; wait for at least one to
	// land, then assert the best-effort bound.
	deadline := time.Now().Add(2 * time.Second)
	for repo.clicks("hot001") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	clicks := repo.clicks("hot001")
	if clicks < 1 || clicks > n {
		t.Errorf("clicks = %d, want between 1 and %d", clicks, n)
	}
}

func TestCreateWithAliasConflict(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)

	alias := "my-link"
	req := &models.CreateLinkRequest{URL: "https://example.com", CustomAlias: &alias}

	if _, err := svc.CreateLink(req, "u1", "http://localhost:8080"); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.CreateLink(req, "u2", "http://localhost:8080")
	if !errors.Is(err, ErrAliasTaken) {
		t.Fatalf("second create err = %v, want ErrAliasTaken", err)
	}
	if repo.count() != 1 {
		t.Errorf("store holds %d links, want 1", repo.count())
	}
}

func TestCreateAliasResolvable(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)

	alias := "promo_2026"
	req := &models.CreateLinkRequest{URL: "https://example.com/sale", CustomAlias: &alias}
	if _, err := svc.CreateLink(req, "u1", "http://localhost:8080"); err != nil {
		t.Fatalf("create: %v", err)
	}

	dest, err := svc.Resolve("promo_2026")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dest != "https://example.com/sale" {
		t.Errorf("destination = %q", dest)
	}
}

func TestCreateGeneratedRetriesOnInsertRace(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)
	repo.failNextCreate = true

	req := &models.CreateLinkRequest{URL: "https://example.com"}
	resp, err := svc.CreateLink(req, "u1", "http://localhost:8080")
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if len(resp.ShortCode) != codeLength {
		t.Errorf("short code %q has length %d, want %d", resp.ShortCode, len(resp.ShortCode), codeLength)
	}
	if repo.count() != 1 {
		t.Errorf("store holds %d links, want 1", repo.count())
	}
}

func TestCreateGeneratedStopsAfterBoundedAttempts(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)
	repo.collideAll = true

	req := &models.CreateLinkRequest{URL: "https://example.com"}
	_, err := svc.CreateLink(req, "u1", "http://localhost:8080")
	if !errors.Is(err, ErrCodeExhausted) {
		t.Fatalf("CreateLink err = %v, want ErrCodeExhausted", err)
	}

	repo.mu.Lock()
	attempts := repo.findCalls
	repo.mu.Unlock()
	if attempts != maxCodeAttempts {
		t.Errorf("allocator tried %d codes, want exactly %d", attempts, maxCodeAttempts)
	}
}

func TestUpdateURLOnlyKeepsExpiry(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)

	future := time.Now().Add(24 * time.Hour)
	link := seedLink(t, repo, "keepex", "https://example.com", "u1", &future)

	// Editing only the URL must not touch the expiry
	newURL := "https://new.example.com"
	if _, err := svc.UpdateLink(link.ID, "u1", &newURL, nil, false); err != nil {
		t.Fatalf("UpdateLink: %v", err)
	}

	got, err := repo.FindByID(link.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.OriginalURL != newURL {
		t.Errorf("OriginalURL = %q, want %q", got.OriginalURL, newURL)
	}
	if got.ExpiresAt == nil {
		t.Fatal("URL-only edit cleared the expiry")
	}
	if !got.ExpiresAt.Equal(future) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, future)
	}

	dest, err := svc.Resolve("keepex")
	if err != nil {
		t.Fatalf("Resolve after edit: %v", err)
	}
	if dest != newURL {
		t.Errorf("destination = %q, want %q", dest, newURL)
	}
}

func TestAliasValidation(t *testing.T) {
	cases := []struct {
		name  string
		alias string
	}{
		{"too short", "ab"},
		{"too long", strings.Repeat("a", 21)},
		{"bad characters", "my link!"},
		{"reserved", "api"},
		{"reserved mixed case", "Login"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateAlias(tc.alias); err == nil {
				t.Errorf("validateAlias(%q) = nil, want error", tc.alias)
			}
		})
	}

	if err := validateAlias("my-link_01"); err != nil {
		t.Errorf("validateAlias(my-link_01) = %v, want nil", err)
	}
}

func TestCreateWithExpiryCachesBoundedTTL(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)

	minutes := 2
	req := &models.CreateLinkRequest{URL: "https://example.com", ExpiresInMinutes: &minutes}
	resp, err := svc.CreateLink(req, "u1", "http://localhost:8080")
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if resp.ExpiresAt == nil {
		t.Fatal("ExpiresAt not set")
	}

	ttl, err := c.TTL(context.Background(), "link:"+resp.ShortCode)
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Minute {
		t.Errorf("cache TTL = %v, want in (0, 2m]", ttl)
	}
}

func TestUpdateClearExpiryRefreshesStaleCache(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)

	past := time.Now().Add(-time.Minute)
	link := seedLink(t, repo, "editme", "https://example.com", "u1", &past)

	// Stale projection still physically present in the cache
	entry := cachedLink{OriginalURL: "https://example.com", ExpiresAt: &past}
	if err := c.SetJSON(context.Background(), "link:editme", entry, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// Clear the expiry
	if _, err := svc.UpdateLink(link.ID, "u1", nil, nil, true); err != nil {
		t.Fatalf("UpdateLink: %v", err)
	}

	// The edit must refresh the projection; resolution must not see Expired
	dest, err := svc.Resolve("editme")
	if err != nil {
		t.Fatalf("Resolve after edit: %v", err)
	}
	if dest != "https://example.com" {
		t.Errorf("destination = %q", dest)
	}
}

func TestUpdateToExpiredInvalidatesCache(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)
	link := seedLink(t, repo, "willdie", "https://example.com", "u1", nil)

	if _, err := svc.Resolve("willdie"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok, _ := c.Exists(context.Background(), "link:willdie"); !ok {
		t.Fatal("link not cached after resolve")
	}

	// Setting an expiry within the 2s grace window yields a non-positive
	// cache TTL, so the entry must be dropped rather than refreshed
	now := time.Now()
	if _, err := svc.UpdateLink(link.ID, "u1", nil, &now, true); err != nil {
		t.Fatalf("UpdateLink: %v", err)
	}

	if ok, _ := c.Exists(context.Background(), "link:willdie"); ok {
		t.Error("cache entry survived an edit that made the link uncacheable")
	}
}

func TestUpdateForbiddenForNonOwner(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, _ := newTestService(t, repo)
	link := seedLink(t, repo, "owned1", "https://example.com", "u1", nil)

	_, err := svc.UpdateLink(link.ID, "intruder", nil, nil, true)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("UpdateLink err = %v, want ErrForbidden", err)
	}

	if err := svc.DeleteLink(link.ID, "intruder"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("DeleteLink err = %v, want ErrForbidden", err)
	}
}

func TestDeleteInvalidatesCache(t *testing.T) {
	repo := newFakeLinkRepo()
	svc, c := newTestService(t, repo)
	link := seedLink(t, repo, "gone01", "https://example.com", "u1", nil)

	if _, err := svc.Resolve("gone01"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := svc.DeleteLink(link.ID, "u1"); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}

	if ok, _ := c.Exists(context.Background(), "link:gone01"); ok {
		t.Error("cache entry survived delete")
	}
	if _, err := svc.Resolve("gone01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after delete err = %v, want ErrNotFound", err)
	}
}

func TestResolveWithoutCacheFallsBackToStore(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := NewLinkService(repo, nil, time.Hour).(*linkService)
	seedLink(t, repo, "nocache", "https://example.com", "u1", nil)

	dest, err := svc.Resolve("nocache")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dest != "https://example.com" {
		t.Errorf("destination = %q", dest)
	}
	if n := repo.clicks("nocache"); n != 1 {
		t.Errorf("clicks = %d, want 1", n)
	}
}
