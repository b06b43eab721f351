package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/auth"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/user"
	"github.com/Salad109/medical-office-manager/internal/visit"
)

type bookCall struct {
	patientID int64
	date      civil.Date
	at        civil.Time
	actor     *int64
}

type stubAppointments struct {
	AppointmentService
	booked  []bookCall
	bookErr error
}

func (s *stubAppointments) Book(ctx context.Context, patientID int64, date civil.Date, at civil.Time) (*appointment.Appointment, error) {
	s.booked = append(s.booked, bookCall{patientID, date, at, audit.ActorID(ctx)})
	if s.bookErr != nil {
		return nil, s.bookErr
	}
	return &appointment.Appointment{ID: 1, PatientID: patientID, Date: date, Time: at, Status: appointment.StatusScheduled}, nil
}

type stubVisits struct {
	VisitService
	appointmentID int64
	doctorID      int64
	notes         string
}

func (s *stubVisits) Complete(_ context.Context, appointmentID, doctorID int64, notes string) (*visit.Visit, error) {
	s.appointmentID, s.doctorID, s.notes = appointmentID, doctorID, notes
	return &visit.Visit{ID: 1, AppointmentID: appointmentID, DoctorID: doctorID, Notes: notes}, nil
}

type stubAudit struct {
	filter audit.Filter
}

func (s *stubAudit) List(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.filter = f
	return nil, nil
}

type stubUsers struct {
	UserService
}

func (stubUsers) Authenticate(_ context.Context, username, password string) (*user.User, error) {
	if username == "anna" && password == "secret-pass" {
		return &user.User{ID: 7, Username: "anna", Role: identity.RolePatient}, nil
	}
	return nil, user.ErrInvalidCredentials
}

type testServer struct {
	handler      http.Handler
	tokens       *auth.Tokens
	appointments *stubAppointments
	visits       *stubVisits
	audit        *stubAudit
}

func newTestServer() *testServer {
	ts := &testServer{
		tokens:       auth.NewTokens("test-secret", "test", time.Hour),
		appointments: &stubAppointments{},
		visits:       &stubVisits{},
		audit:        &stubAudit{},
	}
	ts.handler = NewRouter(RouterConfig{
		Users:        stubUsers{},
		Appointments: ts.appointments,
		Visits:       ts.visits,
		Audit:        ts.audit,
		Tokens:       ts.tokens,
		Logger:       zerolog.Nop(),
		Env:          "test",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, as *identity.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		token, _, err := ts.tokens.Issue(*as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

var (
	patient7 = &identity.Principal{UserID: 7, Role: identity.RolePatient}
	doctor3  = &identity.Principal{UserID: 3, Role: identity.RoleDoctor}
	staff1   = &identity.Principal{UserID: 1, Role: identity.RoleStaff}
)

func TestBookAsPatientDefaultsToSelf(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/appointments", `{"appointment_date":"2024-05-01","appointment_time":"10:00"}`, patient7)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, ts.appointments.booked, 1)
	call := ts.appointments.booked[0]
	assert.Equal(t, int64(7), call.patientID)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.May, Day: 1}, call.date)
	assert.Equal(t, civil.Time{Hour: 10}, call.at)
	require.NotNil(t, call.actor)
	assert.Equal(t, int64(7), *call.actor)

	var appt appointment.Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	assert.Equal(t, appointment.StatusScheduled, appt.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBookRequiresAllowedRole(t *testing.T) {
	ts := newTestServer()
	body := `{"patient_id":7,"appointment_date":"2024-05-01","appointment_time":"10:00"}`

	rec := ts.do(t, http.MethodPost, "/appointments", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/appointments", body, doctor3)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/appointments", body, staff1)
	assert.Equal(t, http.StatusCreated, rec.Code)

	assert.Len(t, ts.appointments.booked, 1)
}

func TestBookConflictIs409(t *testing.T) {
	ts := newTestServer()
	ts.appointments.bookErr = fmt.Errorf("book: %w", appointment.ErrSlotTaken)

	rec := ts.do(t, http.MethodPost, "/appointments", `{"appointment_date":"2024-05-01","appointment_time":"10:00"}`, patient7)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", decodeError(t, rec).Error)
}

func TestBookRejectsBadBody(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/appointments", `{"appointment_date":"01/05/2024","appointment_time":"10:00"}`, patient7)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/appointments", `{"appointment_date":"2024-05-01","appointment_time":"ten"}`, patient7)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time", decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/appointments", `not json`, patient7)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)

	assert.Empty(t, ts.appointments.booked)
}

func TestCompleteVisitUsesCallingDoctor(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/appointments/5/visit", `{"notes":"checkup"}`, doctor3)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5), ts.visits.appointmentID)
	assert.Equal(t, int64(3), ts.visits.doctorID)
	assert.Equal(t, "checkup", ts.visits.notes)

	rec = ts.do(t, http.MethodPost, "/appointments/6/visit", "", doctor3)
	assert.Equal(t, http.StatusCreated, rec.Code, "body is optional")

	rec = ts.do(t, http.MethodPost, "/appointments/5/visit", `{"notes":"x"}`, staff1)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditListIsStaffOnly(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/audit?entity_type=Appointment&entity_id=4", "", patient7)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/audit?entity_type=Appointment&entity_id=4&action=update&limit=10", "", staff1)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	f := ts.audit.filter
	assert.Equal(t, "Appointment", f.EntityType)
	require.NotNil(t, f.EntityID)
	assert.Equal(t, int64(4), *f.EntityID)
	assert.Equal(t, audit.ActionUpdate, f.Action)
	assert.Equal(t, 10, f.Limit)

	rec = ts.do(t, http.MethodGet, "/audit?since=yesterday", "", staff1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/auth/login", `{"username":"anna","password":"secret-pass"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	p, err := ts.tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, identity.Principal{UserID: 7, Role: identity.RolePatient}, p)

	rec = ts.do(t, http.MethodPost, "/auth/login", `{"username":"anna","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeError(t, rec).Error)
}

func TestHandleErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{appointment.ErrSlotTaken, http.StatusConflict, "slot_taken"},
		{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
		{appointment.ErrSlotOffGrid, http.StatusBadRequest, "slot_off_grid"},
		{appointment.ErrCancelForbidden, http.StatusForbidden, "cancel_forbidden"},
		{user.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{fmt.Errorf("wrapped: %w", visit.ErrVisitExists), http.StatusConflict, "visit_exists"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)

			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.code, body.Error)
			assert.NotContains(t, body.Details, "connection reset")
		})
	}
}
