package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"
)

// TURNConfig is the subset of infrastructure/config.TURNConfig this
// handler needs, kept narrow so this package doesn't import config.
type TURNConfig struct {
	STUNServers  []string
	TURNURL      string
	TURNTCPURL   string
	TURNSURL     string
	TURNUsername string
	TURNCred     string
}

// IceHandler answers GET /ice-servers with the STUN/TURN configuration a
// client's RTCPeerConnection should be built with (spec §6).
type IceHandler struct {
	cfg TURNConfig
}

func NewIceHandler(cfg TURNConfig) *IceHandler {
	return &IceHandler{cfg: cfg}
}

type iceServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// Servers returns the configured STUN servers plus, when a TURN
// credential is set, each configured TURN URL as its own entry.
//
// @Summary      ICE server configuration
// @Tags         ice
// @Produce      json
// @Success      200  {object}  iceServersResponse
// @Router       /ice-servers [get]
func (h *IceHandler) Servers(c echo.Context) error {
	var servers []webrtc.ICEServer

	if len(h.cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: h.cfg.STUNServers})
	}

	if h.cfg.TURNCred != "" {
		for _, url := range []string{h.cfg.TURNURL, h.cfg.TURNTCPURL, h.cfg.TURNSURL} {
			if url == "" {
				continue
			}
			servers = append(servers, webrtc.ICEServer{
				URLs:       []string{url},
				Username:   h.cfg.TURNUsername,
				Credential: h.cfg.TURNCred,
			})
		}
	}

	return c.JSON(http.StatusOK, iceServersResponse{ICEServers: servers})
}
