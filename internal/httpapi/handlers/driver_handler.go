// README: Driver endpoints: assignment lifecycle and route progress reports.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"haulmatch/internal/httpapi/middleware"
	"haulmatch/internal/modules/trip"
	"haulmatch/internal/types"
)

type DriverHandler struct {
	trips *trip.Service
}

func NewDriverHandler(trips *trip.Service) *DriverHandler {
	return &DriverHandler{trips: trips}
}

// Active returns the driver's current assignment, 404 when idle.
func (h *DriverHandler) Active(c *gin.Context) {
	a, err := h.trips.ActiveByDriver(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"assignment": a})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	h.lifecycle(c, h.trips.Accept)
}

func (h *DriverHandler) Start(c *gin.Context) {
	h.lifecycle(c, h.trips.Start)
}

func (h *DriverHandler) ArrivePickup(c *gin.Context) {
	h.lifecycle(c, h.trips.ArrivePickup)
}

func (h *DriverHandler) lifecycle(c *gin.Context, op func(context.Context, trip.AcceptCommand) (*trip.Assignment, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := op(c.Request.Context(), trip.AcceptCommand{
		AssignmentID: id,
		DriverID:     types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"assignment": a})
}

// ReachedStop reports arrival at the next route point of the order the
// driver is assigned to.
func (h *DriverHandler) ReachedStop(c *gin.Context) {
	h.route(c, h.trips.ReachedStop)
}

func (h *DriverHandler) DepartedStop(c *gin.Context) {
	h.route(c, h.trips.DepartedStop)
}

func (h *DriverHandler) route(c *gin.Context, op func(context.Context, trip.RouteCommand) (*trip.RouteState, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	state, err := op(c.Request.Context(), trip.RouteCommand{
		OrderID:  id,
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, state)
}
