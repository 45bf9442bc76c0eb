package ws

import "github.com/labstack/echo/v4"

// Handler returns an echo.HandlerFunc that upgrades the request at /ws.
// No bearer-token check happens here — authentication is the first
// `auth` frame the channel sends (spec §4.D).
func (h *Hub) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return h.ServeWS(c.Response(), c.Request())
	}
}
