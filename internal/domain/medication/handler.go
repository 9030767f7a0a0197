package medication

import (
	"errors"
	"net/http"
	"strconv"

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
	api.POST("/medications", h.Create)
	api.GET("/medications", h.List)
	api.GET("/medications/low-stock", h.ListLowStock)
	api.GET("/medications/:id", h.Get)
	api.PATCH("/medications/:id", h.Update)
	api.PATCH("/medications/:id/stock", h.AdjustStock)
	api.DELETE("/medications/:id", h.Delete)
	api.POST("/medications/:id/reminders/generate", h.GenerateReminders)
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
		return echo.NewHTTPError(http.StatusNotFound, "medication not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		return echo.NewHTTPError(http.StatusBadRequest, "insufficient stock")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
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
	m, err := h.svc.Create(c.Request().Context(), accountID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Get(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.Get(c.Request().Context(), id, accountID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) List(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active_only") == "true"
	items, total, err := h.svc.List(c.Request().Context(), accountID, activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListLowStock(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListLowStock(c.Request().Context(), accountID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Medication{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Update(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Update(c.Request().Context(), id, accountID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// StockAdjustment is the body for PATCH /medications/:id/stock. Quantity
// is a signed delta: positive for refills, negative for corrections.
type StockAdjustment struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

func (h *Handler) AdjustStock(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body StockAdjustment
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Quantity == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "quantity must not be zero")
	}
	m, err := h.svc.AdjustStock(c.Request().Context(), id, accountID, body.Quantity, body.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Delete(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id, accountID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GenerateReminders(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	daysAhead := createHorizonDays
	if v := c.QueryParam("days_ahead"); v != "" {
		daysAhead, err = strconv.Atoi(v)
		if err != nil || daysAhead < 1 || daysAhead > 30 {
			return echo.NewHTTPError(http.StatusBadRequest, "days_ahead must be between 1 and 30")
		}
	}
	n, err := h.svc.GenerateReminders(c.Request().Context(), id, accountID, daysAhead)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reminders_created": n})
}
