// README: Customer-facing order endpoints: create, inspect, cancel, track.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"haulmatch/internal/httpapi/middleware"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/modules/order"
	"haulmatch/internal/modules/trip"
	"haulmatch/internal/types"
)

type OrderHandler struct {
	orders *order.Service
	trips  *trip.Service
	fleet  *fleet.Service
}

func NewOrderHandler(orders *order.Service, trips *trip.Service, fl *fleet.Service) *OrderHandler {
	return &OrderHandler{orders: orders, trips: trips, fleet: fl}
}

type placeReq struct {
	Name    string  `json:"name" binding:"required"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (p placeReq) place() types.Place {
	return types.Place{Name: p.Name, Address: p.Address, Lat: p.Lat, Lng: p.Lng}
}

type demandLineReq struct {
	VehicleType    string `json:"vehicleType" binding:"required,vehicletype"`
	VehicleSubtype string `json:"vehicleSubtype" binding:"required,vehicletype"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
	PricePerTruck  int64  `json:"pricePerTruck" binding:"min=0"`
	Currency       string `json:"currency"`
}

type createOrderReq struct {
	Pickup        placeReq        `json:"pickup" binding:"required"`
	Drop          placeReq        `json:"drop" binding:"required"`
	Stops         []placeReq      `json:"stops" binding:"omitempty,dive"`
	DistanceKm    float64         `json:"distanceKm" binding:"min=0"`
	GoodsType     string          `json:"goodsType"`
	CargoWeightKg int64           `json:"cargoWeightKg" binding:"min=0"`
	ScheduledAt   *time.Time      `json:"scheduledAt"`
	Demand        []demandLineReq `json:"demand" binding:"required,min=1,dive"`
}

// Create explodes the demand into truck requests and fans the order out.
// The Idempotency-Key header makes retries replay the first result.
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	customerID := types.ID(middleware.CallerUID(c))
	profile, err := h.fleet.GetUser(c.Request.Context(), customerID)
	if err != nil {
		if errors.Is(err, fleet.ErrUserNotFound) {
			writeBadRequest(c, "customer profile not found, register first")
			return
		}
		writeDomainError(c, err)
		return
	}

	cmd := order.CreateCommand{
		CustomerID:     customerID,
		CustomerPhone:  profile.Phone,
		CustomerName:   profile.Name,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		Pickup:         req.Pickup.place(),
		Drop:           req.Drop.place(),
		DistanceKm:     req.DistanceKm,
		GoodsType:      req.GoodsType,
		CargoWeightKg:  req.CargoWeightKg,
		ScheduledAt:    req.ScheduledAt,
	}
	for _, p := range req.Stops {
		cmd.Stops = append(cmd.Stops, p.place())
	}
	for _, d := range req.Demand {
		currency := d.Currency
		if currency == "" {
			currency = "INR"
		}
		cmd.Demand = append(cmd.Demand, order.DemandLine{
			VehicleType:    d.VehicleType,
			VehicleSubtype: d.VehicleSubtype,
			Quantity:       d.Quantity,
			PricePerTruck:  types.Money{Amount: d.PricePerTruck, Currency: currency},
		})
	}

	res, err := h.orders.Create(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(c, status, res)
}

func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.orders.ListByCustomer(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, requests, err := h.orders.Details(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if o.CustomerID != types.ID(middleware.CallerUID(c)) {
		writeDomainError(c, order.ErrForbidden)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o, "truckRequests": requests})
}

func (h *OrderHandler) Status(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if o.CustomerID != types.ID(middleware.CallerUID(c)) {
		writeDomainError(c, order.ErrForbidden)
		return
	}
	sum, err := h.orders.Summary(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sum)
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelOrderReq
	_ = c.ShouldBindJSON(&req) // body is optional

	res, err := h.orders.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:    id,
		CustomerID: types.ID(middleware.CallerUID(c)),
		Reason:     req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *OrderHandler) Route(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	state, err := h.trips.GetRoute(c.Request.Context(), trip.GetRouteCommand{
		OrderID: id,
		UserID:  types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, state)
}
