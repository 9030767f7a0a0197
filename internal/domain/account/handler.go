package account

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mediremind/mediremind/internal/platform/auth"
)

type Handler struct {
	svc            *Service
	vapidPublicKey string
}

func NewHandler(svc *Service, vapidPublicKey string) *Handler {
	return &Handler{svc: svc, vapidPublicKey: vapidPublicKey}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications/vapid-key", h.VAPIDKey)
	api.POST("/notifications/subscriptions", h.Subscribe)
	api.DELETE("/notifications/subscriptions", h.Unsubscribe)
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
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	case errors.Is(err, ErrSubscriptionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "push subscription not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// VAPIDKey hands the browser the application server key it needs for
// PushManager.subscribe.
func (h *Handler) VAPIDKey(c echo.Context) error {
	if _, err := requireAccount(c); err != nil {
		return err
	}
	if h.vapidPublicKey == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "push notifications are not configured")
	}
	return c.JSON(http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}

func (h *Handler) Subscribe(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	var in SubscribeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sub, err := h.svc.Subscribe(c.Request().Context(), accountID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *Handler) Unsubscribe(c echo.Context) error {
	accountID, err := requireAccount(c)
	if err != nil {
		return err
	}
	var req unsubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Unsubscribe(c.Request().Context(), accountID, req.Endpoint); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
