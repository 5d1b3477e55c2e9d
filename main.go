package main

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"linkly-be/internal/cache"
	"linkly-be/internal/cleanup"
	"linkly-be/internal/config"
	"linkly-be/internal/controllers"
	"linkly-be/internal/database"
	"linkly-be/internal/jwt"
	"linkly-be/internal/middleware"
	"linkly-be/internal/ratelimit"
	"linkly-be/internal/repository"
	"linkly-be/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis cache (optional - continue if Redis is unavailable)
	var cacheClient cache.Cache
	cacheClient, err = cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis (%v). Falling back to in-process cache.", err)
		cacheClient = cache.NewMemoryCache()
	} else {
		log.Println("Connected to Redis cache")
	}

	// Initialize repositories
	linkRepo := repository.NewLinkRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Initialize JWT service
	jwtService := jwt.NewJWTService(
		cfg.JWTSecret,
		time.Duration(cfg.JWTTTL)*time.Hour,
	)

	// Initialize services
	linkService := service.NewLinkService(linkRepo, cacheClient, time.Duration(cfg.CacheTTL)*time.Second)
	authService := service.NewAuthService(userRepo, jwtService)

	// Per-principal creation quota on the cache substrate
	createLimiter := ratelimit.New(cacheClient)

	// Initialize controllers
	linkController := controllers.NewLinkController(
		linkService,
		createLimiter,
		cfg.CreateRateLimit,
		time.Duration(cfg.CreateRateWindow)*time.Second,
		cfg.BaseURL,
	)
	authController := controllers.NewAuthController(authService)
	qrcodeController := controllers.NewQRCodeController(cfg.FrontendURL)

	// Start the expired-link sweeper
	sweeper := cleanup.NewSweeper(linkRepo, time.Duration(cfg.CleanupInterval)*time.Second)
	sweeper.StartOnce()
	defer sweeper.Stop()

	// Per-IP rate limiters
	generalRateLimiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	authRateLimiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitAuthRPS), cfg.RateLimitAuthBurst)
	redirectRateLimiter := middleware.NewIPRateLimiter(30.0, 60) // More lenient for redirects

	// Create a Gin router
	router := gin.Default()

	// Health check endpoint (no rate limiting)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// Redirect endpoint with rate limiting
	router.GET("/:shortCode", redirectRateLimiter.Middleware(), linkController.Redirect)

	// API v1 routes group with general rate limiting
	api := router.Group("/api/v1")
	api.Use(generalRateLimiter.Middleware())
	{
		// Auth routes with stricter rate limiting
		auth := api.Group("/auth")
		auth.Use(authRateLimiter.Middleware())
		{
			auth.POST("/register", authController.Register)
			auth.POST("/login", authController.Login)
		}

		// Protected routes - require JWT authentication
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService))
		{
			protected.POST("/shorten", linkController.CreateLink)
			protected.GET("/links", linkController.GetUserLinks)
			protected.GET("/links/:id", linkController.GetLinkStats)
			protected.PATCH("/links/:id", linkController.UpdateLink)
			protected.DELETE("/links/:id", linkController.DeleteLink)
		}

		// QR Code generation
		api.GET("/qrcode/:shortCode", qrcodeController.GenerateQRCode)
	}

	// Start the server on port 8080
	log.Println("Server starting on http://localhost:8080")
	router.Run(":8080")
}
