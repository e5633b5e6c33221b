package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"kvartal/market/internal/api/handlers"
	"kvartal/market/internal/api/middleware"
	"kvartal/market/internal/config"
	"kvartal/market/internal/services"
	"kvartal/market/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, taskClient handlers.IAsynqClient) *gin.Engine {
	// Initialize services needed by API handlers here.
	userService := services.NewUserService(db, cfg)
	spaceService := services.NewSpaceService(db)
	categoryService := services.NewCategoryService(db)
	favoriteService := services.NewFavoriteService(db)
	listingService := services.NewListingService(db, cfg, spaceService, categoryService, favoriteService)

	mediaStorage, err := storage.NewMediaStorage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Order matters: the optional auth runs first so the rate limiter can key
	// authenticated clients by user.
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.OptionalAuthMiddleware(cfg.JwtSecret))
	r.Use(rateLimiter.Limit())

	userHandler := handlers.NewUserHandler(userService)
	spaceHandler := handlers.NewSpaceHandler(spaceService)
	listingHandler := handlers.NewListingHandler(cfg, listingService, mediaStorage, taskClient)
	favoriteHandler := handlers.NewFavoriteHandler(cfg, favoriteService, listingService)
	categoryHandler := handlers.NewCategoryHandler(categoryService)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Public routes. Reads resolve the principal optionally: anonymous
		// callers see public spaces only.
		v1.POST("/auth/register", userHandler.Register)
		v1.POST("/auth/login", userHandler.Login)

		v1.GET("/user/:id", userHandler.GetUserByID)
		v1.GET("/space/:id", spaceHandler.GetSpace)
		v1.GET("/space/slug/:slug", spaceHandler.GetSpaceBySlug)
		v1.GET("/space/:id/listings", listingHandler.ListSpaceListings)
		v1.GET("/listing/:id", listingHandler.GetListing)
		v1.GET("/category", categoryHandler.List)

		// Authenticated routes.
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/me", userHandler.GetProfile)
			authRequired.PATCH("/me", userHandler.UpdateProfile)

			authRequired.POST("/space", spaceHandler.CreateSpace)
			authRequired.PATCH("/space/:id", spaceHandler.UpdateSpace)
			authRequired.DELETE("/space/:id", spaceHandler.DeleteSpace)
			authRequired.POST("/space/:id/join", spaceHandler.Join)
			authRequired.POST("/space/:id/leave", spaceHandler.Leave)
			authRequired.POST("/space/:id/transfer", spaceHandler.TransferOwnership)
			authRequired.GET("/space/:id/members", spaceHandler.ListMembers)

			authRequired.POST("/listing", listingHandler.CreateListing)
			authRequired.PATCH("/listing/:id", listingHandler.UpdateListing)
			authRequired.DELETE("/listing/:id", listingHandler.DeleteListing)
			authRequired.POST("/listing/:id/images", listingHandler.RequestImageUpload)
			authRequired.POST("/listing/:id/images/complete", listingHandler.CompleteImageUpload)

			authRequired.GET("/favorite", favoriteHandler.List)
			authRequired.PUT("/favorite/:id", favoriteHandler.Add)
			authRequired.DELETE("/favorite/:id", favoriteHandler.Remove)

			authRequired.POST("/category", categoryHandler.Create)
		}
	}

	return r
}
