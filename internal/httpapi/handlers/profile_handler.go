// README: Profile bootstrap and device-token registration for every role.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"haulmatch/internal/httpapi/middleware"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/types"
)

type ProfileHandler struct {
	fleet *fleet.Service
}

func NewProfileHandler(fl *fleet.Service) *ProfileHandler {
	return &ProfileHandler{fleet: fl}
}

type upsertProfileReq struct {
	Phone         string `json:"phone" binding:"required"`
	Name          string `json:"name"`
	TransporterID string `json:"transporterId"`
	IsAvailable   *bool  `json:"isAvailable"`
}

// Upsert creates or refreshes the caller's profile. The role comes from the
// verified token claim, never from the body.
func (h *ProfileHandler) Upsert(c *gin.Context) {
	var req upsertProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	role := fleet.Role(middleware.CallerRole(c))
	if role == "" {
		writeBadRequest(c, "token has no role claim")
		return
	}
	cmd := fleet.UpsertUserCommand{
		ID:          types.ID(middleware.CallerUID(c)),
		Phone:       req.Phone,
		Role:        role,
		Name:        req.Name,
		IsAvailable: role == fleet.RoleTransporter,
	}
	if req.IsAvailable != nil {
		cmd.IsAvailable = *req.IsAvailable
	}
	if req.TransporterID != "" {
		tid := types.ID(req.TransporterID)
		cmd.TransporterID = &tid
	}
	u, err := h.fleet.UpsertUser(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"user": u})
}

func (h *ProfileHandler) Get(c *gin.Context) {
	u, err := h.fleet.GetUser(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"user": u})
}

type deviceTokenReq struct {
	Token string `json:"token" binding:"required"`
}

func (h *ProfileHandler) SetDeviceToken(c *gin.Context) {
	var req deviceTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := h.fleet.SetDeviceToken(c.Request.Context(), types.ID(middleware.CallerUID(c)), req.Token); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"updated": true})
}
