package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/auth"
	"licensehub/internal/licensing"
	"licensehub/internal/models"
)

// ownedLicense loads the license by key and checks that the caller owns it
// or is an administrator.
func ownedLicense(ctx context.Context, b *licensing.Binder, id *auth.Identity, key string) (*models.License, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperr.Validation("license_key is required")
	}
	l, err := b.LicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if l.UserID != id.UserID() && !id.IsAdmin() {
		return nil, apperr.ErrForbidden.WithMessage("license belongs to another user")
	}
	return l, nil
}

// deviceFrom prefers the body value and falls back to X-DEVICE-ID.
func deviceFrom(body string, id *auth.Identity) string {
	if d := strings.TrimSpace(body); d != "" {
		return d
	}
	return id.DeviceID
}

func ListLicenses(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ls, err := b.UserLicenses(r.Context(), auth.Subject(r.Context()))
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"licenses": ls})
	}
}

type buyLicenseReq struct {
	Type string `json:"type" validate:"required,oneof=standard premium enterprise"`
}

func BuyLicense(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req buyLicenseReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		l, err := b.BuyLicense(r.Context(), auth.Subject(r.Context()), req.Type)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusCreated, map[string]interface{}{
			"success": true,
			"message": "license purchased, the key has been sent by email",
			"license": l,
		})
	}
}

type licenseKeyReq struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

func ActivateLicense(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identity(r)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		var req licenseKeyReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		if _, err := ownedLicense(r.Context(), b, id, req.LicenseKey); err != nil {
			writeError(w, r, lg, err)
			return
		}
		l, err := b.Activate(r.Context(), req.LicenseKey)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "license activated",
			"license": l,
		})
	}
}

type bindDeviceReq struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id" validate:"max=255"`
}

// ValidateLicense binds the device to an active license. With
// activate set the license is activated first when needed.
func ValidateLicense(b *licensing.Binder, activate bool, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identity(r)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		var req bindDeviceReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		device := deviceFrom(req.DeviceID, id)
		if device == "" {
			writeError(w, r, lg, apperr.Validation("device_id is required"))
			return
		}
		if _, err := ownedLicense(r.Context(), b, id, req.LicenseKey); err != nil {
			writeError(w, r, lg, err)
			return
		}

		var res *licensing.RegisterResult
		if activate {
			res, err = b.ActivateAndRegister(r.Context(), req.LicenseKey, device)
		} else {
			res, err = b.RegisterDevice(r.Context(), req.LicenseKey, device)
		}
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		msg := "license is valid, device registered"
		if res.AlreadyRegistered {
			msg = "license is valid, device already registered"
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{
			"valid":   true,
			"message": msg,
			"result":  res,
		})
	}
}
