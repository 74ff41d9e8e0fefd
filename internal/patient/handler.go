package patient

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	state *State
}

func NewHandler(state *State) *Handler {
	return &Handler{state: state}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patient")
	g.GET("", h.Get)
	g.PUT("", h.Set)
	g.DELETE("", h.Clear)
}

type setResponse struct {
	Patient *Patient `json:"patient"`
	Changed bool     `json:"changed"`
}

func (h *Handler) Get(c echo.Context) error {
	p := h.state.Current()
	if p == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, p)
}

// Set selects a patient. Selecting the same identity again only updates
// the display fields and reports changed=false.
func (h *Handler) Set(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.FullPK) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "isenPK and isenFullPKCrypto are required")
	}
	changed := h.state.Set(&p)
	return c.JSON(http.StatusOK, setResponse{Patient: h.state.Current(), Changed: changed})
}

func (h *Handler) Clear(c echo.Context) error {
	h.state.Clear()
	return c.NoContent(http.StatusNoContent)
}
