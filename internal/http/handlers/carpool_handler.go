// README: Carpool lifecycle handlers for create/get/join/start/finish/cancel.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/carpool"
	"carpool/internal/types"
)

type CarpoolHandler struct {
	carpools *carpool.Service
}

func NewCarpoolHandler(svc *carpool.Service) *CarpoolHandler {
	return &CarpoolHandler{carpools: svc}
}

type createCarpoolReq struct {
	Origin            types.Place `json:"origin"`
	Destination       types.Place `json:"destination"`
	PlannedTravelTime time.Time   `json:"planned_travel_time"`
	Seats             int         `json:"seats"`
}

type startCarpoolReq struct {
	EstimatedArrival *time.Time `json:"estimated_arrival"`
	NavApp           string     `json:"nav_app"`
}

type finishCarpoolReq struct {
	DistanceKm       float64      `json:"distance_km"`
	FinalDestination *types.Place `json:"final_destination"`
	EstimatedArrival *time.Time   `json:"estimated_arrival"`
	EndType          string       `json:"end_type"`
}

type cancelCarpoolReq struct {
	Reason string `json:"reason"`
}

func (h *CarpoolHandler) Create(c *gin.Context) {
	var req createCarpoolReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	created, err := h.carpools.Create(c.Request.Context(), carpool.CreateCommand{
		DriverID:          middleware.CallerUID(c),
		Origin:            req.Origin,
		Destination:       req.Destination,
		PlannedTravelTime: req.PlannedTravelTime,
		Seats:             req.Seats,
	})
	if err != nil {
		writeCarpoolError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, created.View())
}

func (h *CarpoolHandler) Get(c *gin.Context) {
	id, ok := carpoolID(c)
	if !ok {
		return
	}
	v, err := h.carpools.GetStatus(c.Request.Context(), id, middleware.CallerUID(c))
	if err != nil {
		writeCarpoolError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (h *CarpoolHandler) Join(c *gin.Context) {
	id, ok := carpoolID(c)
	if !ok {
		return
	}
	res, err := h.carpools.Join(c.Request.Context(), carpool.JoinCommand{CarpoolID: id, RiderID: middleware.CallerUID(c)})
	if err != nil {
		writeCarpoolError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *CarpoolHandler) Start(c *gin.Context) {
	id, ok := carpoolID(c)
	if !ok {
		return
	}
	var req startCarpoolReq
	if !bindOptional(c, &req) {
		return
	}
	cmd := carpool.StartCommand{CarpoolID: id, DriverID: middleware.CallerUID(c), NavApp: req.NavApp}
	if req.EstimatedArrival != nil {
		cmd.EstimatedArrival = *req.EstimatedArrival
	}
	started, err := h.carpools.Start(c.Request.Context(), cmd)
	if err != nil {
		writeCarpoolError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, started.View())
}

func (h *CarpoolHandler) Finish(c *gin.Context) {
	id, ok := carpoolID(c)
	if !ok {
		return
	}
	var req finishCarpoolReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	cmd := carpool.FinishCommand{
		CarpoolID:        id,
		CallerID:         middleware.CallerUID(c),
		DistanceKm:       req.DistanceKm,
		FinalDestination: req.FinalDestination,
		EndType:          carpool.EndType(req.EndType),
	}
	if req.EstimatedArrival != nil {
		cmd.EstimatedArrival = *req.EstimatedArrival
	}
	res, err := h.carpools.Finish(c.Request.Context(), cmd)
	if err != nil {
		writeCarpoolError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *CarpoolHandler) Cancel(c *gin.Context) {
	id, ok := carpoolID(c)
	if !ok {
		return
	}
	var req cancelCarpoolReq
	if !bindOptional(c, &req) {
		return
	}
	res, err := h.carpools.Cancel(c.Request.Context(), carpool.CancelCommand{
		CarpoolID: id,
		CallerID:  middleware.CallerUID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeCarpoolError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func carpoolID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid carpool id")
		return "", false
	}
	return types.ID(id), true
}

// bindOptional accepts an empty body for endpoints whose fields are all optional.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid json")
		return false
	}
	return true
}
