package reminder

import (
	"crypto/subtle"
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
	api.GET("/reminders", h.List)
	api.GET("/reminders/today", h.Today)
	api.GET("/reminders/upcoming", h.Upcoming)
	api.GET("/reminders/:id", h.Get)
	api.POST("/reminders/:id/taken", h.MarkTaken)
	api.POST("/reminders/:id/skipped", h.MarkSkipped)
	api.POST("/reminders/:id/missed", h.MarkMissed)
	api.DELETE("/reminders/:id", h.Delete)
	api.GET("/medications/:id/reminders", h.ListByMedication)
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
		return echo.NewHTTPError(http.StatusNotFound, "reminder not found")
	case errors.Is(err, ErrTerminalState):
		return echo.NewHTTPError(http.StatusConflict, "reminder already in a terminal state")
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

func (h *Handler) List(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}

	var f ListFilter
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = &st
	}
	if v := c.QueryParam("start_date"); v != "" {
		t, err := parseTimeParam(v, false)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid start_date")
		}
		f.From = &t
	}
	if v := c.QueryParam("end_date"); v != "" {
		t, err := parseTimeParam(v, true)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid end_date")
		}
		f.Until = &t
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), accountID, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByMedication(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	medicationID, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByMedication(c.Request().Context(), medicationID, accountID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Today(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Today(c.Request().Context(), accountID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Reminder{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Upcoming(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	hours := 24
	if v := c.QueryParam("hours"); v != "" {
		hours, err = strconv.Atoi(v)
		if err != nil || hours < 1 || hours > 168 {
			return echo.NewHTTPError(http.StatusBadRequest, "hours must be between 1 and 168")
		}
	}
	items, err := h.svc.Upcoming(c.Request().Context(), accountID, hours)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Reminder{}
	}
	return c.JSON(http.StatusOK, items)
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
	rem, err := h.svc.Get(c.Request().Context(), id, accountID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rem)
}

type markRequest struct {
	TakenAt *time.Time `json:"taken_at"`
	Notes   *string    `json:"notes"`
}

func (h *Handler) MarkTaken(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body markRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rem, err := h.svc.MarkTaken(c.Request().Context(), id, accountID, body.TakenAt, body.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rem)
}

func (h *Handler) MarkSkipped(c echo.Context) error {
	return h.mark(c, StatusSkipped)
}

func (h *Handler) MarkMissed(c echo.Context) error {
	return h.mark(c, StatusMissed)
}

func (h *Handler) mark(c echo.Context, target Status) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body markRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var rem *Reminder
	if target == StatusSkipped {
		rem, err = h.svc.MarkSkipped(c.Request().Context(), id, accountID, body.Notes)
	} else {
		rem, err = h.svc.MarkMissed(c.Request().Context(), id, accountID, body.Notes)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rem)
}

func (h *Handler) Delete(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, accountID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CronHandler exposes the dispatcher and generator passes to an external
// scheduler. Requests authenticate with a shared secret header instead of a
// bearer token.
type CronHandler struct {
	dispatcher *Dispatcher
	generator  *Generator
	secret     string
}

func NewCronHandler(dispatcher *Dispatcher, generator *Generator, secret string) *CronHandler {
	return &CronHandler{dispatcher: dispatcher, generator: generator, secret: secret}
}

func (h *CronHandler) RegisterRoutes(api *echo.Group) {
	cron := api.Group("/cron", h.requireSecret)
	cron.POST("/dispatch", h.Dispatch)
	cron.POST("/generate", h.Generate)
}

func (h *CronHandler) requireSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		given := c.Request().Header.Get("X-Cron-Secret")
		if h.secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid cron secret")
		}
		return next(c)
	}
}

func (h *CronHandler) Dispatch(c echo.Context) error {
	stats := h.dispatcher.RunOnce(c.Request().Context())
	return c.JSON(http.StatusOK, stats)
}

func (h *CronHandler) Generate(c echo.Context) error {
	created, err := h.generator.RunOnce(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reminders_created": created})
}
