package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/licensing"
)

func ListDevices(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identity(r)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		l, err := ownedLicense(r.Context(), b, id, chi.URLParam(r, "licenseKey"))
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		devices, err := b.DevicesByLicenseID(r.Context(), l.ID)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"devices": devices})
	}
}

// AddDevice is the client-application variant of ValidateLicense: it
// answers 201 for a new binding and 200 when the device was already bound.
func AddDevice(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
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
		res, err := b.RegisterDevice(r.Context(), req.LicenseKey, device)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		if res.AlreadyRegistered {
			respondJSON(w, r, http.StatusOK, map[string]interface{}{
				"success": true, "message": "device already registered", "device": res.Device,
			})
			return
		}
		respondJSON(w, r, http.StatusCreated, map[string]interface{}{
			"success": true, "message": "device added", "device": res.Device,
		})
	}
}

type removeDeviceReq struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required"`
}

// RemoveDevice unbinds a device. device_id may be the device row id or the
// client-reported device identifier.
func RemoveDevice(b *licensing.Binder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identity(r)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		var req removeDeviceReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		if _, err := ownedLicense(r.Context(), b, id, req.LicenseKey); err != nil {
			writeError(w, r, lg, err)
			return
		}
		if err := b.RemoveDevice(r.Context(), req.LicenseKey, req.DeviceID); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("device removed"))
	}
}
