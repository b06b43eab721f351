package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Salad109/medical-office-manager/internal/audit"
)

func listAuditHandler(svc AuditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := auditFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}

		entries, err := svc.List(r.Context(), f)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func auditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		EntityType: q.Get("entity_type"),
		Action:     audit.Action(strings.ToUpper(q.Get("action"))),
	}

	var err error
	if f.Limit, f.Offset, err = pagination(r); err != nil {
		return audit.Filter{}, err
	}
	if f.EntityID, err = optionalID(q.Get("entity_id"), "entity_id"); err != nil {
		return audit.Filter{}, err
	}
	if f.ActorID, err = optionalID(q.Get("actor_id"), "actor_id"); err != nil {
		return audit.Filter{}, err
	}
	if f.Since, err = optionalTime(q.Get("since"), "since"); err != nil {
		return audit.Filter{}, err
	}
	if f.Until, err = optionalTime(q.Get("until"), "until"); err != nil {
		return audit.Filter{}, err
	}

	switch f.Action {
	case "", audit.ActionCreate, audit.ActionUpdate, audit.ActionDelete:
	default:
		return audit.Filter{}, errInvalidParam("action must be CREATE, UPDATE or DELETE")
	}
	return f, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return string(e) }

func optionalID(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errInvalidParam(name + " must be an integer")
	}
	return &id, nil
}

func optionalTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errInvalidParam(name + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}
