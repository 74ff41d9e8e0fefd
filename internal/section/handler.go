package section

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/history/pkg/pagination"
)

// Lookup resolves a section key to its controller.
type Lookup func(key string) (*Controller, bool)

type Handler struct {
	lookup Lookup
	keys   []string
}

// NewHandler serves the sections in keys, in that order.
func NewHandler(lookup Lookup, keys []string) *Handler {
	return &Handler{lookup: lookup, keys: keys}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sections")
	g.GET("", h.List)
	g.GET("/:key", h.GetStatus)
	g.GET("/:key/records", h.Records)
	g.POST("/:key/fetch", h.Fetch)
	g.POST("/:key/retry", h.Retry)
	g.POST("/:key/retry/cancel", h.CancelRetry)
	g.POST("/:key/clear-and-retry", h.ClearAndRetry)
	g.PUT("/:key/filters", h.SetFilters)
	g.PATCH("/:key/filters/:id", h.SetFilter)
	g.DELETE("/:key/filters", h.ClearFilters)
	g.POST("/:key/sort", h.Sort)
	g.GET("/:key/filter-sets", h.ListFilterSets)
	g.POST("/:key/filter-sets", h.SaveFilterSet)
	g.POST("/:key/filter-sets/:name/load", h.LoadFilterSet)
	g.DELETE("/:key/filter-sets/:name", h.DeleteFilterSet)
	g.DELETE("/:key/automation", h.ClearAutomation)
}

type sortRequest struct {
	Key string `json:"key"`
}

type filterRequest struct {
	Value string `json:"value"`
}

type filterSetRequest struct {
	Name string `json:"name"`
}

func (h *Handler) controller(c echo.Context) (*Controller, error) {
	ctl, ok := h.lookup(c.Param("key"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "section not found")
	}
	return ctl, nil
}

// fetchError maps a dropped fetch onto an HTTP error.
func fetchError(err error) error {
	switch {
	case errors.Is(err, ErrNoPatient):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) List(c echo.Context) error {
	out := make([]Status, 0, len(h.keys))
	for _, k := range h.keys {
		if ctl, ok := h.lookup(k); ok {
			out = append(out, ctl.Status())
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetStatus(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctl.Status())
}

// Records returns a page of the filtered, sorted records.
func (h *Handler) Records(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	records := ctl.Visible()
	return c.JSON(http.StatusOK, pagination.Slice(records, pagination.FromQuery(c)))
}

// Fetch runs the first attempt and returns the resulting status. Retries
// continue in the background and are pushed over the websocket.
func (h *Handler) Fetch(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	if err := ctl.FetchData(c.Request().Context()); err != nil {
		return fetchError(err)
	}
	return c.JSON(http.StatusOK, ctl.Status())
}

func (h *Handler) Retry(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	if err := ctl.Retry(c.Request().Context()); err != nil {
		return fetchError(err)
	}
	return c.JSON(http.StatusOK, ctl.Status())
}

func (h *Handler) CancelRetry(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	if !ctl.CancelRetry() {
		return echo.NewHTTPError(http.StatusConflict, "no retry pending")
	}
	return c.JSON(http.StatusOK, ctl.Status())
}

func (h *Handler) ClearAndRetry(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	if err := ctl.ClearFiltersAndRetry(c.Request().Context()); err != nil {
		return fetchError(err)
	}
	return c.JSON(http.StatusOK, ctl.Status())
}

func (h *Handler) SetFilters(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	// Decoded directly: binding into a map would also pick up path params.
	var values FilterState
	if err := json.NewDecoder(c.Request().Body).Decode(&values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid filter values")
	}
	if err := ctl.SetFilters(values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, ctl.Status())
}

// SetFilter records keystroke-level input; the re-render is debounced, so
// the request is only accepted here.
func (h *Handler) SetFilter(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	var req filterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := ctl.SetFilter(c.Param("id"), req.Value); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) ClearFilters(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	ctl.ClearFilters()
	return c.JSON(http.StatusOK, ctl.Status())
}

func (h *Handler) Sort(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	var req sortRequest
	if err := c.Bind(&req); err != nil || req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sort key is required")
	}
	return c.JSON(http.StatusOK, ctl.HandleSort(req.Key))
}

func (h *Handler) ListFilterSets(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	sets, err := ctl.ListFilterSets(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sets == nil {
		sets = []SavedFilterSet{}
	}
	return c.JSON(http.StatusOK, sets)
}

func filterSetError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyName), errors.Is(err, ErrNotConfirmed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrFilterSetNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) SaveFilterSet(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	var req filterSetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := ctl.SaveFilterSet(c.Request().Context(), req.Name); err != nil {
		return filterSetError(err)
	}
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) LoadFilterSet(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	if err := ctl.LoadFilterSet(c.Request().Context(), c.Param("name")); err != nil {
		return filterSetError(err)
	}
	return c.JSON(http.StatusOK, ctl.Status())
}

// DeleteFilterSet requires ?confirm=true.
func (h *Handler) DeleteFilterSet(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	confirmed := c.QueryParam("confirm") == "true"
	if err := ctl.DeleteFilterSet(c.Request().Context(), c.Param("name"), confirmed); err != nil {
		return filterSetError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ClearAutomation(c echo.Context) error {
	ctl, err := h.controller(c)
	if err != nil {
		return err
	}
	ctl.ClearAutomation()
	return c.JSON(http.StatusOK, ctl.Status())
}
