package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/history/internal/section"
)

// Handler serves the session-wide endpoints: user settings and fetching
// every panel at once.
type Handler struct {
	app *Context
}

func NewHandler(a *Context) *Handler {
	return &Handler{app: a}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.SaveSettings)
	api.POST("/fetch-all", h.FetchAll)
}

func (h *Handler) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.app.Settings())
}

func (h *Handler) SaveSettings(c echo.Context) error {
	var s section.GlobalSettings
	if err := json.NewDecoder(c.Request().Body).Decode(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "settings must be a JSON object")
	}
	if err := h.app.SaveSettings(c.Request().Context(), s); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.app.Settings())
}

type fetchAllResponse struct {
	Sections []section.Status `json:"sections"`
	Timeline interface{}      `json:"timeline"`
}

func (h *Handler) FetchAll(c echo.Context) error {
	if err := h.app.FetchAll(c.Request().Context()); err != nil {
		if errors.Is(err, section.ErrNoPatient) {
			return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := fetchAllResponse{Timeline: h.app.Timeline.View()}
	for _, ctl := range h.app.Sections() {
		resp.Sections = append(resp.Sections, ctl.Status())
	}
	return c.JSON(http.StatusOK, resp)
}
