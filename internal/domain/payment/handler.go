package payment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/payments", auth.RequireRole(auth.RolePatient, auth.RoleFamily))
	g.GET("/:kind/:id/quote", h.Quote)
	g.POST("/:kind/:id/confirm", h.Confirm)
}

func (h *Handler) target(c echo.Context) (auth.Actor, Kind, uuid.UUID, error) {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return auth.Actor{}, "", uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return auth.Actor{}, "", uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return actor, Kind(c.Param("kind")), id, nil
}

func (h *Handler) Quote(c echo.Context) error {
	actor, kind, id, err := h.target(c)
	if err != nil {
		return err
	}
	q, err := h.svc.Quote(c.Request().Context(), actor, kind, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

type confirmRequest struct {
	Amount     Money  `json:"amount"`
	PaymentRef string `json:"payment_ref"`
}

func (h *Handler) Confirm(c echo.Context) error {
	actor, kind, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	receipt, err := h.svc.Confirm(c.Request().Context(), actor, kind, id, req.Amount, req.PaymentRef)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}
