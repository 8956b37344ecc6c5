package prescription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/prescriptions", h.Issue)
	doctor.POST("/prescriptions/:id/cancel", h.Cancel)

	pharmacist := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharmacist.POST("/prescriptions/:id/claim", h.Claim)
	pharmacist.POST("/prescriptions/:id/ready", h.MarkReady)

	patient := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleFamily))
	patient.POST("/prescriptions/:id/confirm", h.Confirm)

	api.GET("/prescriptions/:id", h.Get)
	api.GET("/patients/:patient_id/prescriptions", h.ListForPatient)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) Issue(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req IssueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Issue(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	patientID, err := uuidParam(c, "patient_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListForPatient(c.Request().Context(), actor, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

type actionFunc func(h *Handler, c echo.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error)

func (h *Handler) action(c echo.Context, fn actionFunc) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	p, err := fn(h, c, actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.action(c, func(h *Handler, c echo.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
		return h.svc.ConfirmForProcessing(c.Request().Context(), actor, id)
	})
}

func (h *Handler) Claim(c echo.Context) error {
	return h.action(c, func(h *Handler, c echo.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
		return h.svc.Claim(c.Request().Context(), actor, id)
	})
}

func (h *Handler) MarkReady(c echo.Context) error {
	return h.action(c, func(h *Handler, c echo.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
		return h.svc.MarkReady(c.Request().Context(), actor, id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.action(c, func(h *Handler, c echo.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := c.Bind(&body); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return h.svc.Cancel(c.Request().Context(), actor, id, body.Reason)
	})
}
