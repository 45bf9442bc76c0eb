package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// clientCounter is satisfied by *ws.Hub; kept as a narrow interface so
// this package never imports the transport package directly.
type clientCounter interface {
	ClientCount() int
}

// HealthHandler answers the liveness probe (spec §6).
type HealthHandler struct {
	hub clientCounter
}

func NewHealthHandler(hub clientCounter) *HealthHandler {
	return &HealthHandler{hub: hub}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// Liveness reports process health and the current control-channel count.
//
// @Summary      Liveness probe
// @Tags         health
// @Produce      json
// @Success      200  {object}  healthResponse
// @Router       /health [get]
func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Clients: h.hub.ClientCount()})
}
