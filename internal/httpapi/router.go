// README: Route registration; role-gated groups delegating to module services.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"haulmatch/internal/events"
	"haulmatch/internal/httpapi/handlers"
	"haulmatch/internal/httpapi/middleware"
	"haulmatch/internal/infra"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/modules/hold"
	"haulmatch/internal/modules/order"
	"haulmatch/internal/modules/trip"
)

type RouterDeps struct {
	Log      *zap.SugaredLogger
	Verifier infra.TokenVerifier
	Orders   *order.Service
	Holds    *hold.Service
	Trips    *trip.Service
	Fleet    *fleet.Service
	Hub      *events.Hub
}

// NewRouter builds the gin engine. Everything under /api requires a
// verified token; the role groups add the role gate on top.
func NewRouter(deps RouterDeps) http.Handler {
	registerBindings()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.RequestLog(deps.Log))

	orderHandler := handlers.NewOrderHandler(deps.Orders, deps.Trips, deps.Fleet)
	transporterHandler := handlers.NewTransporterHandler(deps.Orders, deps.Holds, deps.Fleet)
	driverHandler := handlers.NewDriverHandler(deps.Trips)
	profileHandler := handlers.NewProfileHandler(deps.Fleet)
	wsHandler := handlers.NewWSHandler(deps.Hub)

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	profile := api.Group("/profile")
	profile.POST("", profileHandler.Upsert)
	profile.GET("", profileHandler.Get)
	profile.PUT("/device-token", profileHandler.SetDeviceToken)

	customer := api.Group("/customer", middleware.RequireRole(string(fleet.RoleCustomer)))
	customer.POST("/orders", orderHandler.Create)
	customer.GET("/orders", orderHandler.List)
	customer.GET("/orders/:id", orderHandler.Get)
	customer.GET("/orders/:id/status", orderHandler.Status)
	customer.POST("/orders/:id/cancel", orderHandler.Cancel)
	customer.GET("/orders/:id/route", orderHandler.Route)

	transporter := api.Group("/transporter", middleware.RequireRole(string(fleet.RoleTransporter)))
	transporter.GET("/orders", transporterHandler.Feed)
	transporter.GET("/orders/:id/availability", transporterHandler.Availability)
	transporter.GET("/orders/:id/route", orderHandler.Route)
	transporter.POST("/holds", transporterHandler.PlaceHold)
	transporter.POST("/holds/:id/confirm", transporterHandler.ConfirmHold)
	transporter.POST("/holds/:id/release", transporterHandler.ReleaseHold)
	transporter.PUT("/availability", transporterHandler.SetAvailability)
	transporter.POST("/vehicles", transporterHandler.UpsertVehicle)
	transporter.GET("/vehicles", transporterHandler.Vehicles)
	transporter.PUT("/vehicles/:id/active", transporterHandler.SetVehicleActive)

	driver := api.Group("/driver", middleware.RequireRole(string(fleet.RoleDriver)))
	driver.GET("/assignment", driverHandler.Active)
	driver.POST("/assignments/:id/accept", driverHandler.Accept)
	driver.POST("/assignments/:id/start", driverHandler.Start)
	driver.POST("/assignments/:id/arrive-pickup", driverHandler.ArrivePickup)
	driver.POST("/orders/:id/reached", driverHandler.ReachedStop)
	driver.POST("/orders/:id/departed", driverHandler.DepartedStop)
	driver.GET("/orders/:id/route", orderHandler.Route)

	r.GET("/ws", middleware.TokenFromQuery(), middleware.Auth(deps.Verifier), wsHandler.Serve)

	return r
}
