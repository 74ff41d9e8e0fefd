package timeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/history/pkg/pagination"
)

type Handler struct {
	ctrl *Controller
}

func NewHandler(ctrl *Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/timeline")
	g.GET("", h.GetView)
	g.GET("/events", h.Events)
	g.POST("/fetch", h.Fetch)
	g.PUT("/filters", h.SetFilters)
	g.PUT("/focus", h.SetFocus)
	g.POST("/focus/toggle", h.ToggleFocus)
	g.DELETE("/automation", h.ClearAutomation)
}

type focusRequest struct {
	Focused bool `json:"focused"`
}

type focusResponse struct {
	Focused bool `json:"focused"`
}

// GetView returns the whole view, events included.
func (h *Handler) GetView(c echo.Context) error {
	return c.JSON(http.StatusOK, h.ctrl.View())
}

// Events returns a page of the visible events.
func (h *Handler) Events(c echo.Context) error {
	events := h.ctrl.View().Events
	return c.JSON(http.StatusOK, pagination.Slice(events, pagination.FromQuery(c)))
}

// Fetch loads every source and returns the resulting view. Partial
// failures are reported in failed_sources, not as an HTTP error. The
// fetch outlives a client disconnect; the result is still pushed over the
// websocket.
func (h *Handler) Fetch(c echo.Context) error {
	if err := h.ctrl.FetchData(context.WithoutCancel(c.Request().Context())); err != nil {
		switch {
		case errors.Is(err, ErrNoPatient):
			return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
		case errors.Is(err, ErrBusy):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.ctrl.View())
}

func (h *Handler) SetFilters(c echo.Context) error {
	var f Filters
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.ctrl.SetFilters(f)
	return c.JSON(http.StatusOK, h.ctrl.View())
}

// SetFocus switches the focused view. Focusing without an armed rule is
// not an error; the response reports the resulting mode.
func (h *Handler) SetFocus(c echo.Context) error {
	var req focusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, focusResponse{Focused: h.ctrl.SetFocused(req.Focused)})
}

func (h *Handler) ToggleFocus(c echo.Context) error {
	return c.JSON(http.StatusOK, focusResponse{Focused: h.ctrl.ToggleFocused()})
}

func (h *Handler) ClearAutomation(c echo.Context) error {
	h.ctrl.ClearAutomation()
	return c.NoContent(http.StatusNoContent)
}
