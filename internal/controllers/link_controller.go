package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"linkly-be/internal/models"
	"linkly-be/internal/ratelimit"
	"linkly-be/internal/service"
)

type LinkController struct {
	linkService  service.LinkService
	limiter      *ratelimit.Limiter
	createLimit  int
	createWindow time.Duration
	baseURL      string
}

func NewLinkController(linkService service.LinkService, limiter *ratelimit.Limiter, createLimit int, createWindow time.Duration, baseURL string) *LinkController {
	return &LinkController{
		linkService:  linkService,
		limiter:      limiter,
		createLimit:  createLimit,
		createWindow: createWindow,
		baseURL:      baseURL,
	}
}

// currentUserID pulls the principal set by the auth middleware
func currentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID not found in token",
		})
		c.Abort()
		return "", false
	}
	return userID.(string), true
}

// CreateLink handles POST /api/v1/shorten
func (lc *LinkController) CreateLink(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	// Per-principal creation quota, fixed window
	res, err := lc.limiter.Check(c.Request.Context(), "create_link:"+userID, lc.createLimit, lc.createWindow)
	if err != nil {
		log.Printf("Warning: rate limit check failed for user %s: %v", userID, err)
	} else if !res.Allowed {
		c.Header("Retry-After", fmt.Sprintf("%d", int(res.Reset.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":         "Rate limit exceeded. Please try again later.",
			"reset_seconds": int(res.Reset.Seconds()),
		})
		return
	}

	var req models.CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	response, err := lc.linkService.CreateLink(&req, userID, lc.baseURL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAliasTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrCodeExhausted):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, response)
}

// Redirect handles GET /:shortCode - redirects to the original URL
func (lc *LinkController) Redirect(c *gin.Context) {
	token := c.Param("shortCode")

	destination, err := lc.linkService.Resolve(token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
		case errors.Is(err, service.ErrExpired):
			c.JSON(http.StatusGone, gin.H{"error": "Link expired"})
		default:
			log.Printf("Redirect error for %s: %v", token, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	// 302: expiring destinations must not be cached as permanent by clients
	c.Redirect(http.StatusFound, destination)
}

// GetUserLinks handles GET /api/v1/links - lists the authenticated user's links
func (lc *LinkController) GetUserLinks(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	links, err := lc.linkService.GetUserLinks(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, links)
}

// GetLinkStats handles GET /api/v1/links/:id - returns link statistics
func (lc *LinkController) GetLinkStats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	stats, err := lc.linkService.GetLinkStats(c.Param("id"), userID)
	if err != nil {
		respondMutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// UpdateLink handles PATCH /api/v1/links/:id - edits URL and/or expiry.
// An absent expires_at keeps the current expiry; explicit null (or an empty
// string) clears it; an ISO 8601 string sets it.
func (lc *LinkController) UpdateLink(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	updateExpiry := len(req.ExpiresAt) > 0
	var expiresAt *time.Time
	if updateExpiry && string(req.ExpiresAt) != "null" {
		var raw string
		if err := json.Unmarshal(req.ExpiresAt, &raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid expires_at. Use ISO 8601 format (e.g., 2024-12-31T23:59:59Z) or null",
			})
			return
		}
		if raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid date format. Use ISO 8601 format (e.g., 2024-12-31T23:59:59Z)",
				})
				return
			}
			utcTime := parsed.UTC()
			expiresAt = &utcTime
		}
	}

	updated, err := lc.linkService.UpdateLink(c.Param("id"), userID, req.URL, expiresAt, updateExpiry)
	if err != nil {
		respondMutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// DeleteLink handles DELETE /api/v1/links/:id
func (lc *LinkController) DeleteLink(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := lc.linkService.DeleteLink(c.Param("id"), userID); err != nil {
		respondMutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Link deleted successfully"})
}

func respondMutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
