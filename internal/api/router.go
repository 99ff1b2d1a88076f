package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/api/middleware"
	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/deadletter"
	"github.com/railzwaylabs/stockflow/internal/usecase/reservation"
)

type Router struct {
	engine *gin.Engine
	server *http.Server
	cfg    *config.Config
	stock  *reservation.Engine
	dlq    *deadletter.Service
	logger *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	stock *reservation.Engine,
	dlq *deadletter.Service,
	logger *zap.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine: r,
		cfg:    cfg,
		stock:  stock,
		dlq:    dlq,
		logger: logger.Named("api"),
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	inv := r.engine.Group("/api/inventory")
	{
		inv.POST("", r.CreateInventory)
		inv.GET("", r.ListInventory)
		inv.GET("/low-stock", r.ListLowStock)
		inv.GET("/sku/:sku", r.GetInventoryBySKU)
		inv.POST("/stock/check-batch", r.CheckStockBatch)

		inv.GET("/:productId", r.GetInventory)
		inv.PUT("/:productId", r.UpdateInventory)
		inv.DELETE("/:productId", r.DeleteInventory)
		inv.POST("/:productId/stock", r.AddStock)
		inv.PUT("/:productId/stock", r.AdjustStock)
		inv.GET("/:productId/stock", r.CheckStock)
		inv.GET("/:productId/movements", r.ListMovements)

		inv.POST("/reservations", r.ReserveStock)
		inv.GET("/reservations/:orderId", r.GetReservations)
		inv.PUT("/reservations/:orderId/confirm", r.ConfirmReservation)
		inv.PUT("/reservations/:orderId/release", r.ReleaseReservation)
	}

	// Admin Routes (Protected by ADMIN_API_TOKEN)
	admin := r.engine.Group("/api/admin/dlq")
	admin.Use(r.adminAuth())
	{
		admin.GET("/unresolved", r.GetUnresolvedDeadLetters)
		admin.GET("/stats", r.GetDeadLetterStats)
		admin.GET("/:id", r.GetDeadLetter)
		admin.POST("/:id/reprocess", r.ReprocessDeadLetter)
		admin.POST("/:id/resolve", r.ResolveDeadLetter)
	}
}

// Handler exposes the gin engine, mainly for tests.
func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
