package access

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/middleware"
)

func newTestServer(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	svc, _ := newTestService()
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

func asActor(req *http.Request, a auth.Actor) {
	req.Header.Set(auth.DevUserHeader, a.UserID.String())
	req.Header.Set(auth.DevRolesHeader, strings.Join(a.Roles, ","))
	if a.PatientID != uuid.Nil {
		req.Header.Set(auth.DevPatientHeader, a.PatientID.String())
	}
}

func TestHandler_InviteAndList(t *testing.T) {
	e, _ := newTestServer(t)
	patient := patientActor()

	body := `{"email":"sis@example.com","relationship":"sister","grants":{"view_appointments":true}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/"+patient.PatientID.String()+"/family-members", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	asActor(req, patient)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var m FamilyMember
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if !m.Pending || !m.Grants.ViewAppointments {
		t.Errorf("unexpected member %+v", m)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+patient.PatientID.String()+"/family-members", nil)
	asActor(req, patient)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_InviteRequiresPatientRole(t *testing.T) {
	e, _ := newTestServer(t)
	actor := auth.Actor{UserID: uuid.New(), Roles: []string{auth.RoleFamily}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/"+uuid.NewString()+"/family-members", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	asActor(req, actor)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_CheckPermission(t *testing.T) {
	e, _ := newTestServer(t)
	patient := patientActor()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+patient.PatientID.String()+"/permissions/MANAGE_BILLING", nil)
	asActor(req, patient)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Allowed bool `json:"allowed"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Allowed {
		t.Error("patient should hold every permission for themselves")
	}
}

func TestHandler_ConfirmInvalidID(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/family-members/not-a-uuid/confirm", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_MyPatients(t *testing.T) {
	e, _ := newTestServer(t)
	patient := patientActor()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/patients", nil)
	asActor(req, patient)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body struct {
		PatientIDs []uuid.UUID `json:"patient_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.PatientIDs) != 1 || body.PatientIDs[0] != patient.PatientID {
		t.Errorf("unexpected patient ids %v", body.PatientIDs)
	}
}
