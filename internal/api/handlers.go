package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/identity"
)

// parseClock accepts "10:00" as well as "10:00:00".
func parseClock(s string) (civil.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("15:04", s); err == nil {
		return civil.TimeOf(t), nil
	}
	return civil.ParseTime(s)
}

func queryDate(r *http.Request) (civil.Date, bool) {
	d, err := civil.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		return civil.Date{}, false
	}
	return d, true
}

func bookAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}

		date, err := civil.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "appointment_date must be YYYY-MM-DD")
			return
		}
		at, err := parseClock(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "appointment_time must be HH:MM")
			return
		}

		patientID := req.PatientID
		if p, _ := audit.PrincipalFromContext(r.Context()); patientID == 0 && p.Role == identity.RolePatient {
			patientID = p.UserID
		}
		if patientID == 0 {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id is required")
			return
		}

		appt, err := svc.Book(r.Context(), patientID, date, at)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := queryDate(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date query parameter must be YYYY-MM-DD")
			return
		}

		appts, err := svc.List(r.Context(), date)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appts)
	}
}

func availableSlotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := queryDate(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date query parameter must be YYYY-MM-DD")
			return
		}

		var patientID int64
		if raw := r.URL.Query().Get("patient_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a positive integer")
				return
			}
			patientID = id
		} else if p, _ := audit.PrincipalFromContext(r.Context()); p.Role == identity.RolePatient {
			patientID = p.UserID
		} else {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id is required")
			return
		}

		times, err := svc.AvailableSlots(r.Context(), patientID, date)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailableSlotsResponse{PatientID: patientID, Date: date, Times: times})
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func patientAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a positive integer")
			return
		}
		limit, offset, err := pagination(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
			return
		}

		appts, err := svc.ListForPatient(r.Context(), id, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appts)
	}
}

// completeVisitHandler records the visit with the calling doctor as its
// doctor. The body is optional.
func completeVisitHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		var req CompleteVisitRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeBadRequest(w, err)
			return
		}

		p, _ := audit.PrincipalFromContext(r.Context())
		v, err := svc.Complete(r.Context(), id, p.UserID, req.Notes)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, v)
	}
}

func getAppointmentVisitHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		v, err := svc.GetByAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, v)
	}
}

func getVisitHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_visit_id", "id must be a positive integer")
			return
		}

		v, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, v)
	}
}

func patientVisitsHandler(svc VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a positive integer")
			return
		}
		limit, offset, err := pagination(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
			return
		}

		visits, err := svc.ListForPatient(r.Context(), id, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, visits)
	}
}
