// README: Transporter endpoints: feed, hold/confirm/release, fleet upkeep.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"haulmatch/internal/httpapi/middleware"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/modules/hold"
	"haulmatch/internal/modules/order"
	"haulmatch/internal/types"
)

type TransporterHandler struct {
	orders *order.Service
	holds  *hold.Service
	fleet  *fleet.Service
}

func NewTransporterHandler(orders *order.Service, holds *hold.Service, fl *fleet.Service) *TransporterHandler {
	return &TransporterHandler{orders: orders, holds: holds, fleet: fl}
}

// Feed lists searching units across open orders matching the caller's
// active vehicle keys.
func (h *TransporterHandler) Feed(c *gin.Context) {
	items, err := h.orders.ActiveFeed(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": items})
}

// Availability shows the per-group remaining counts for one order, the
// read a transporter does right before holding.
func (h *TransporterHandler) Availability(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.orders.GetAvailability(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

type placeHoldReq struct {
	OrderID        string `json:"orderId" binding:"required"`
	VehicleType    string `json:"vehicleType" binding:"required,vehicletype"`
	VehicleSubtype string `json:"vehicleSubtype" binding:"required,vehicletype"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
}

func (h *TransporterHandler) PlaceHold(c *gin.Context) {
	var req placeHoldReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	held, err := h.holds.Place(c.Request.Context(), hold.PlaceCommand{
		OrderID:        types.ID(req.OrderID),
		TransporterID:  types.ID(middleware.CallerUID(c)),
		VehicleType:    req.VehicleType,
		VehicleSubtype: req.VehicleSubtype,
		Quantity:       req.Quantity,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"hold": held})
}

type confirmHoldReq struct {
	Assignments []hold.AssignmentInput `json:"assignments" binding:"omitempty,dive"`
}

// ConfirmHold settles a hold into assignments. With an assignments array it
// binds one vehicle and driver per held unit; without one the units are
// assigned to the transporter for later crewing.
func (h *TransporterHandler) ConfirmHold(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req confirmHoldReq
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		writeBadRequest(c, err.Error())
		return
	}
	transporterID := types.ID(middleware.CallerUID(c))

	if len(req.Assignments) == 0 {
		res, err := h.holds.Confirm(c.Request.Context(), hold.ConfirmCommand{
			HoldID:        id,
			TransporterID: transporterID,
		})
		if err != nil {
			writeDomainError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, res)
		return
	}

	res, err := h.holds.ConfirmWithAssignments(c.Request.Context(), hold.ConfirmAssignmentsCommand{
		HoldID:        id,
		TransporterID: transporterID,
		Assignments:   req.Assignments,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *TransporterHandler) ReleaseHold(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := h.holds.Release(c.Request.Context(), hold.ConfirmCommand{
		HoldID:        id,
		TransporterID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"released": true})
}

type availabilityReq struct {
	Available *bool `json:"available" binding:"required"`
}

func (h *TransporterHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	u, err := h.fleet.SetAvailability(c.Request.Context(), types.ID(middleware.CallerUID(c)), *req.Available)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"user": u})
}

type upsertVehicleReq struct {
	ID             string `json:"id"`
	VehicleNumber  string `json:"vehicleNumber" binding:"required"`
	VehicleType    string `json:"vehicleType" binding:"required,vehicletype"`
	VehicleSubtype string `json:"vehicleSubtype" binding:"required,vehicletype"`
	CapacityKg     int64  `json:"capacityKg" binding:"min=0"`
	IsActive       *bool  `json:"isActive"`
}

func (h *TransporterHandler) UpsertVehicle(c *gin.Context) {
	var req upsertVehicleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	v, err := h.fleet.UpsertVehicle(c.Request.Context(), fleet.UpsertVehicleCommand{
		ID:             types.ID(req.ID),
		TransporterID:  types.ID(middleware.CallerUID(c)),
		VehicleNumber:  req.VehicleNumber,
		VehicleType:    req.VehicleType,
		VehicleSubtype: req.VehicleSubtype,
		CapacityKg:     req.CapacityKg,
		IsActive:       active,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	status := http.StatusCreated
	if req.ID != "" {
		status = http.StatusOK
	}
	writeJSON(c, status, gin.H{"vehicle": v})
}

func (h *TransporterHandler) Vehicles(c *gin.Context) {
	vehicles, err := h.fleet.Vehicles(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"vehicles": vehicles})
}

type vehicleActiveReq struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *TransporterHandler) SetVehicleActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req vehicleActiveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	v, err := h.fleet.SetVehicleActive(c.Request.Context(), id, types.ID(middleware.CallerUID(c)), *req.Active)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"vehicle": v})
}
