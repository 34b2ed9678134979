package api

import (
	"github.com/gin-gonic/gin"

	"github.com/beaconhq/beacon/internal/handlers"
)

func registerAlertRoutes(api *gin.RouterGroup, svc Services) error {
	alertHandler, err := handlers.NewAlertHandler(svc.Alerts, svc.Claims, svc.Geo, svc.Audit, svc.Fanout)
	if err != nil {
		return err
	}

	alerts := api.Group("/alerts")
	{
		alerts.POST("", alertHandler.Create)
		alerts.GET("/nearby", alertHandler.Nearby)
		alerts.GET("/:id", alertHandler.Get)
		alerts.POST("/:id/cancel", alertHandler.Cancel)
		alerts.POST("/:id/claim", alertHandler.Claim)
		alerts.POST("/:id/advance", alertHandler.Advance)
		alerts.GET("/:id/audit", alertHandler.Audit)
		alerts.GET("/:id/events", alertHandler.Events)
	}

	return nil
}
