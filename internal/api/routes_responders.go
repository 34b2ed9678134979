package api

import (
	"github.com/gin-gonic/gin"

	"github.com/beaconhq/beacon/internal/handlers"
	"github.com/beaconhq/beacon/internal/middleware"
	"github.com/beaconhq/beacon/internal/models"
)

func registerResponderRoutes(api *gin.RouterGroup, svc Services) error {
	responderHandler, err := handlers.NewResponderHandler(svc.Responders, svc.Geo)
	if err != nil {
		return err
	}

	responders := api.Group("/responders")
	{
		responders.GET("/me", responderHandler.Me)
		responders.POST("/duty", responderHandler.SetDuty)
		responders.POST("/location", responderHandler.UpdateLocation)
		responders.GET("/nearby", middleware.RequireRole(string(models.RoleAdmin)), responderHandler.Nearby)
	}

	return nil
}
