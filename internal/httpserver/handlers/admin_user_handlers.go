package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"licensehub/internal/licensing"
	"licensehub/internal/session"
)

func ListUsers(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := c.ListUsers(r.Context())
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"users": users})
	}
}

// GetUser returns the user together with its licenses.
func GetUser(c *session.Controller, b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := c.User(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		ls, err := b.UserLicenses(r.Context(), u.ID)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"user": u, "licenses": ls})
	}
}

type createUserReq struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	UserName  string `json:"user_name,omitempty" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	IsAdmin   bool   `json:"is_admin"`
}

// CreateUser provisions a confirmed account with its client and free license.
func CreateUser(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		acct, err := c.AdminCreateUser(r.Context(), session.RegisterInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			UserName:  req.UserName,
			Email:     req.Email,
			Password:  req.Password,
		}, req.IsAdmin)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusCreated, map[string]interface{}{"user": acct.User, "license": acct.License})
	}
}

type updateUserReq struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Password  *string `json:"password" validate:"omitempty,min=8"`
	IsAdmin   *bool   `json:"is_admin"`
}

func UpdateUser(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateUserReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		u, err := c.AdminUpdateUser(r.Context(), chi.URLParam(r, "id"), session.UserUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Password:  req.Password,
			IsAdmin:   req.IsAdmin,
		})
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"user": u})
	}
}

func DeleteUser(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("user deleted"))
	}
}

func UserLicenses(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ls, err := b.UserLicenses(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"licenses": ls})
	}
}

func DeleteLicense(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.DeleteLicense(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("license deleted"))
	}
}

func LicenseDevices(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, err := b.DevicesByLicenseID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"devices": devices})
	}
}

func DeleteDevice(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.DeleteDeviceByID(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("device deleted"))
	}
}
