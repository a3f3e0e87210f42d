package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
)

// StoreChecker reports whether the key-value store is reachable.
type StoreChecker func(ctx context.Context) error

type HealthController struct {
	router *gin.RouterGroup
	check  StoreChecker
}

func NewHealthController(router *gin.RouterGroup, check StoreChecker) *HealthController {
	return &HealthController{
		router: router,
		check:  check,
	}
}

func (controller *HealthController) SetupRoutes() {
	controller.router.GET("/health", controller.healthHandler)
	controller.router.HEAD("/health", controller.healthHandler)
}

func (controller *HealthController) healthHandler(c *gin.Context) {
	if controller.check != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := controller.check(ctx); err != nil {
			tlog.App.Error().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": "Store unavailable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Healthy",
		"version": config.Version,
	})
}
