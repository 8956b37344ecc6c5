package scheduling

import (
	"context"
	"net/http"
	"time"

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
	// Doctor endpoints
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/slots", h.CreateSlot)
	doctor.PUT("/slots/:id", h.UpdateSlot)
	doctor.POST("/slots/:id/enable", h.EnableSlot)
	doctor.POST("/slots/:id/disable", h.DisableSlot)
	doctor.POST("/appointments/:id/complete", h.Complete)
	doctor.POST("/appointments/:id/no-show", h.MarkNoShow)
	doctor.GET("/doctors/:doctor_id/appointments", h.ListForDoctor)

	// Patient-side endpoints, for patients and their family members
	booking := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleFamily))
	booking.POST("/appointments", h.Book)
	booking.POST("/appointments/:id/reschedule", h.Reschedule)

	// Any authenticated actor; the service enforces ownership
	api.GET("/doctors/:doctor_id/slots", h.ListSlots)
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.GET("/appointments/:id", h.Get)
	api.GET("/patients/:patient_id/appointments", h.ListForPatient)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Slot Handlers --

func (h *Handler) CreateSlot(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req SlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.CreateSlot(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req SlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.UpdateSlot(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) EnableSlot(c echo.Context) error {
	return h.toggleSlot(c, h.svc.EnableSlot)
}

func (h *Handler) DisableSlot(c echo.Context) error {
	return h.toggleSlot(c, h.svc.DisableSlot)
}

func (h *Handler) toggleSlot(c echo.Context, fn func(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Slot, error)) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	slot, err := fn(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slot)
}

// ListSlots accepts RFC 3339 from/to bounds (default: the next 14 days) and
// available=true to hide slots that can no longer be booked.
func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	from := time.Now().UTC()
	if v := c.QueryParam("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
	}
	to := from.Add(14 * 24 * time.Hour)
	if v := c.QueryParam("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
	}

	list := h.svc.ListDoctorSlots
	if c.QueryParam("available") == "true" {
		list = h.svc.ListAvailable
	}
	slots, err := list(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return err
	}
	if slots == nil {
		slots = []*Slot{}
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Appointment Handlers --

func (h *Handler) Book(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Book(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Cancel(c.Request().Context(), actor, id, body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Complete(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		DoctorNotes string `json:"doctor_notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Complete(c.Request().Context(), actor, id, body.DoctorNotes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Reschedule(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		SlotID uuid.UUID `json:"slot_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Reschedule(c.Request().Context(), actor, id, body.SlotID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.MarkNoShow(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
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
	appt, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
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
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListForDoctor(c.Request().Context(), actor, doctorID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}
