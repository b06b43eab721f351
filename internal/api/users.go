package api

import (
	"net/http"
	"strings"

	"github.com/Salad109/medical-office-manager/internal/apperr"
	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/user"
)

var errUserViewForbidden = apperr.Forbidden("user_view_forbidden", "patients may only view their own profile")

func loginHandler(users UserService, tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}

		u, err := users.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			handleError(w, r, err)
			return
		}

		token, expiresAt, err := tokens.Issue(u.Principal())
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt, User: u})
	}
}

func registerHandler(users UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}

		role := identity.RolePatient
		if req.Role != "" {
			role = identity.Role(req.Role)
		}

		u, err := users.Register(r.Context(), user.RegisterInput{
			Username:  req.Username,
			Password:  req.Password,
			Role:      role,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
			PESEL:     req.PESEL,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, u)
	}
}

func meHandler(users UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := audit.PrincipalFromContext(r.Context())
		u, err := users.GetUser(r.Context(), p.UserID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func getUserHandler(users UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "id must be a positive integer")
			return
		}

		if p, _ := audit.PrincipalFromContext(r.Context()); p.Role == identity.RolePatient && p.UserID != id {
			handleError(w, r, errUserViewForbidden)
			return
		}

		u, err := users.GetUser(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func updateProfileHandler(users UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "id must be a positive integer")
			return
		}

		var req UpdateProfileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}

		u, err := users.UpdateProfile(r.Context(), id, user.ProfileInput{
			Username:  req.Username,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
			PESEL:     req.PESEL,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, u)
	}
}

func searchUsersHandler(users UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pagination(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
			return
		}

		q := r.URL.Query()
		role := identity.Role(strings.ToUpper(q.Get("role")))

		found, err := users.Search(r.Context(), q.Get("q"), role, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, found)
	}
}
