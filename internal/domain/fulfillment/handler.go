package fulfillment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleFamily))
	patient.POST("/prescriptions/:id/delivery/pickup", h.ChoosePickup)
	patient.POST("/prescriptions/:id/delivery/home", h.ChooseHomeDelivery)

	pharmacist := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharmacist.POST("/deliveries/:id/process", h.Process)
	pharmacist.POST("/deliveries/:id/out-for-delivery", h.MarkOutForDelivery)

	// Pharmacists and patient-side actors; the engine checks which applies
	api.GET("/prescriptions/:id/delivery", h.GetForPrescription)
	api.GET("/deliveries/:id", h.Get)
	api.POST("/deliveries/:id/complete", h.Complete)
	api.POST("/deliveries/:id/cancel", h.Cancel)
	api.GET("/patients/:patient_id/deliveries", h.ListForPatient)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// request resolves the actor and the :id path parameter shared by every route.
func request(c echo.Context) (auth.Actor, uuid.UUID, error) {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	return actor, id, nil
}

func respond(c echo.Context, code int, d *MedicationDelivery, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(code, d)
}

func (h *Handler) ChoosePickup(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	var body struct {
		Instructions string `json:"instructions"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.engine.ChoosePickup(c.Request().Context(), actor, id, body.Instructions)
	return respond(c, http.StatusCreated, d, err)
}

func (h *Handler) ChooseHomeDelivery(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	var req HomeDeliveryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.engine.ChooseHomeDelivery(c.Request().Context(), actor, id, req)
	return respond(c, http.StatusCreated, d, err)
}

func (h *Handler) Process(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	d, err := h.engine.Process(c.Request().Context(), actor, id)
	return respond(c, http.StatusOK, d, err)
}

func (h *Handler) MarkOutForDelivery(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	var req OutForDeliveryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.engine.MarkOutForDelivery(c.Request().Context(), actor, id, req)
	return respond(c, http.StatusOK, d, err)
}

func (h *Handler) Complete(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	d, err := h.engine.Complete(c.Request().Context(), actor, id)
	return respond(c, http.StatusOK, d, err)
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.engine.Cancel(c.Request().Context(), actor, id, body.Reason)
	return respond(c, http.StatusOK, d, err)
}

func (h *Handler) Get(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	d, err := h.engine.Get(c.Request().Context(), actor, id)
	return respond(c, http.StatusOK, d, err)
}

func (h *Handler) GetForPrescription(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	d, err := h.engine.GetForPrescription(c.Request().Context(), actor, id)
	return respond(c, http.StatusOK, d, err)
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
	items, err := h.engine.ListForPatient(c.Request().Context(), actor, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}
