package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/api/handlers"
	"shopbridge/internal/api/middleware"
	"shopbridge/internal/cache"
	"shopbridge/internal/storage"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Storage  storage.Storage
	Tokens   handlers.TokenManager
	Executor handlers.Executor
	Cache    cache.ShopInfoCache
	Auth     handlers.AuthConfig
	APIKey   string
	Logger   *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.ContentType())

	// Health check (no auth)
	healthHandler := handlers.NewHealthHandler()
	router.GET("/health", healthHandler.GetHealth)

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(config.APIKey))
	{
		// Authorization flow endpoints
		authHandler := handlers.NewAuthHandler(
			config.Storage,
			config.Tokens,
			config.Executor,
			config.Auth,
			config.Logger,
		)
		v1.GET("/auth/url", authHandler.GetAuthURL)
		v1.GET("/auth/callback", authHandler.Callback)
		v1.GET("/auth/status", authHandler.GetStatus)
		v1.GET("/auth/token", authHandler.GetToken)
		v1.POST("/auth/revoke", authHandler.Revoke)

		// Shop endpoints
		shopHandler := handlers.NewShopHandler(
			config.Storage,
			config.Executor,
			config.Tokens,
			config.Cache,
			config.Logger,
		)
		v1.GET("/shops", shopHandler.ListShops)
		v1.GET("/shops/:shop_id/info", shopHandler.GetShopInfo)

		// Product endpoints
		productHandler := handlers.NewProductHandler(
			config.Storage,
			config.Executor,
			config.Logger,
		)
		v1.GET("/shops/:shop_id/products", productHandler.ListSyncedProducts)
		v1.POST("/shops/:shop_id/products/search", productHandler.SearchProducts)
		v1.GET("/shops/:shop_id/products/:product_id", productHandler.GetProduct)

		// Order endpoints
		orderHandler := handlers.NewOrderHandler(config.Executor, config.Logger)
		v1.GET("/shops/:shop_id/orders", orderHandler.GetOrders)
		v1.POST("/shops/:shop_id/orders/search", orderHandler.SearchOrders)

		// Return and cancellation endpoints
		returnHandler := handlers.NewReturnHandler(config.Executor, config.Logger)
		v1.POST("/shops/:shop_id/returns/search", returnHandler.SearchReturns)
		v1.POST("/shops/:shop_id/cancellations/search", returnHandler.SearchCancellations)

		// Analytics endpoints
		analyticsHandler := handlers.NewAnalyticsHandler(config.Executor, config.Logger)
		v1.GET("/shops/:shop_id/analytics/performance", analyticsHandler.GetShopPerformance)
	}

	return router
}
