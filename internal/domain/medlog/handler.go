package medlog

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mediremind/mediremind/internal/platform/auth"
	"github.com/mediremind/mediremind/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/logs", h.Create)
	api.GET("/logs", h.List)
	api.GET("/logs/adherence", h.Adherence)
	api.GET("/logs/report", h.Report)
	api.GET("/logs/summary", h.Summary)
	api.GET("/logs/:id", h.Get)
	api.POST("/logs/:id/void", h.Void)
}

func requireAccount(c echo.Context) (uuid.UUID, error) {
	accountID, err := auth.AccountID(c)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return accountID, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "log entry not found")
	case errors.Is(err, ErrMedicationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "medication not found")
	case errors.Is(err, ErrVoided):
		return echo.NewHTTPError(http.StatusConflict, "log entry already voided")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseTimeParam accepts RFC 3339 instants and bare dates. A bare date at
// the end of a range means the whole day.
func parseTimeParam(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

func queryWindow(c echo.Context) (*time.Time, *time.Time, error) {
	var from, until *time.Time
	if v := c.QueryParam("start_date"); v != "" {
		t, err := parseTimeParam(v, false)
		if err != nil {
			return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid start_date")
		}
		from = &t
	}
	if v := c.QueryParam("end_date"); v != "" {
		t, err := parseTimeParam(v, true)
		if err != nil {
			return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid end_date")
		}
		until = &t
	}
	return from, until, nil
}

func (h *Handler) Create(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.Log(c.Request().Context(), accountID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *Handler) List(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}

	var f ListFilter
	if v := c.QueryParam("medication_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid medication_id")
		}
		f.MedicationID = &id
	}
	if v := c.QueryParam("action"); v != "" {
		action := Action(v)
		if !action.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid action")
		}
		f.Action = &action
	}
	f.From, f.Until, err = queryWindow(c)
	if err != nil {
		return err
	}
	if v := c.QueryParam("include_voided"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid include_voided")
		}
		f.IncludeVoided = include
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), accountID, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Log{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Adherence(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	var medicationID *uuid.UUID
	if v := c.QueryParam("medication_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid medication_id")
		}
		medicationID = &id
	}
	from, until, err := queryWindow(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Adherence(c.Request().Context(), accountID, medicationID, from, until)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Report(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	from, until, err := queryWindow(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Report(c.Request().Context(), accountID, from, until)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Summary(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	days := 7
	if v := c.QueryParam("days"); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil || days < 1 || days > 90 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be between 1 and 90")
		}
	}
	summary, err := h.svc.RecentSummary(c.Request().Context(), accountID, days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) Get(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Get(c.Request().Context(), id, accountID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

type voidRequest struct {
	Reason *string `json:"void_reason"`
}

func (h *Handler) Void(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body voidRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.Void(c.Request().Context(), id, accountID, body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}
