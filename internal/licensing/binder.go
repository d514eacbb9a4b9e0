// Package licensing owns the license lifecycle and the binding of
// licenses to devices.
package licensing

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/mailer"
	"licensehub/internal/metrics"
	"licensehub/internal/models"
	"licensehub/internal/store"
)

const (
	defaultRegisterAttempts = 5
	keyAttempts             = 5
)

type Options struct {
	// AutoActivateOnFirstDevice lets RegisterDevice flip an inactive license
	// to active instead of failing with LICENSE_INACTIVE.
	AutoActivateOnFirstDevice bool
	// RegisterAttempts bounds retries after losing a slot race.
	RegisterAttempts int
}

type RegisterResult struct {
	Bound             bool            `json:"bound"`
	AlreadyRegistered bool            `json:"already_registered"`
	Activated         bool            `json:"activated"`
	License           *models.License `json:"license"`
	Device            *models.Device  `json:"device"`
}

type Binder struct {
	st   *store.Store
	mail mailer.Sender
	opts Options
	lg   *zap.SugaredLogger
	m    *metrics.Metrics
}

func NewBinder(st *store.Store, mail mailer.Sender, opts Options, lg *zap.SugaredLogger, m *metrics.Metrics) *Binder {
	if opts.RegisterAttempts <= 0 {
		opts.RegisterAttempts = defaultRegisterAttempts
	}
	return &Binder{st: st, mail: mail, opts: opts, lg: lg, m: m}
}

func required(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.Validation(field + " is required")
	}
	return nil
}

// Activate moves an inactive license to active. A license that is already
// active, or does not exist, is reported as not found.
func (b *Binder) Activate(ctx context.Context, key string) (*models.License, error) {
	if err := required(key, "license key"); err != nil {
		return nil, err
	}
	ok, err := b.st.ActivateLicense(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrLicenseNotFound.WithMessage("license not found or already active")
	}
	l, err := b.st.LicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	b.m.Activation()
	if err := b.st.Audit(ctx, "license.activated", l.UserID, l.ID, nil); err != nil {
		b.lg.Warnw("audit write failed", "action", "license.activated", "error", err)
	}
	b.lg.Infow("license activated", "license_id", l.ID)
	return l, nil
}

// RegisterDevice binds deviceID to the license, honoring the configured
// activation policy. Registering the same device twice is a no-op.
func (b *Binder) RegisterDevice(ctx context.Context, key, deviceID string) (*RegisterResult, error) {
	return b.register(ctx, key, deviceID, b.opts.AutoActivateOnFirstDevice)
}

// ActivateAndRegister activates the license if needed and binds deviceID.
func (b *Binder) ActivateAndRegister(ctx context.Context, key, deviceID string) (*RegisterResult, error) {
	return b.register(ctx, key, deviceID, true)
}

func (b *Binder) register(ctx context.Context, key, deviceID string, autoActivate bool) (*RegisterResult, error) {
	if err := required(key, "license key"); err != nil {
		return nil, err
	}
	if err := required(deviceID, "device id"); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= b.opts.RegisterAttempts; attempt++ {
		var res *RegisterResult
		err := b.st.Transaction(ctx, func(tx *store.Store) error {
			var err error
			res, err = b.registerTx(ctx, tx, key, deviceID, autoActivate)
			return err
		})
		switch {
		case err == nil:
			b.recordRegistration(res)
			return res, nil
		case store.IsUniqueViolation(err):
			b.lg.Debugw("device registration lost a race, retrying", "attempt", attempt, "device_id", deviceID)
			continue
		case errors.Is(err, apperr.ErrDeviceLimitExceeded):
			b.m.DeviceRegistration("limit_exceeded")
			return nil, err
		default:
			b.m.DeviceRegistration("rejected")
			return nil, err
		}
	}
	b.m.DeviceRegistration("contention")
	return nil, apperr.ErrRegistrationBusy
}

// registerTx runs with the license row locked. The (license_id, slot)
// unique index backs the count check when the lock is unavailable.
func (b *Binder) registerTx(ctx context.Context, tx *store.Store, key, deviceID string, autoActivate bool) (*RegisterResult, error) {
	l, err := tx.LockLicenseByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}

	res := &RegisterResult{License: l}
	if !l.Active() {
		if !autoActivate {
			return nil, apperr.ErrLicenseInactive
		}
		if _, err := tx.ActivateLicense(ctx, key); err != nil {
			return nil, err
		}
		l.Status = models.StatusActive
		res.Activated = true
	}

	existing, err := tx.DeviceByLicense(ctx, l.ID, deviceID)
	if err == nil {
		res.AlreadyRegistered = true
		res.Device = existing
		return res, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	devices, err := tx.DevicesByLicense(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if len(devices) >= models.MaxDevicesPerLicense {
		return nil, apperr.ErrDeviceLimitExceeded.WithMessage(
			"maximum number of devices reached (%d)", models.MaxDevicesPerLicense)
	}

	d := &models.Device{LicenseID: l.ID, DeviceID: deviceID, Slot: freeSlot(devices)}
	if err := tx.CreateDevice(ctx, d); err != nil {
		return nil, err
	}
	if err := tx.Audit(ctx, "device.registered", l.UserID, l.ID, map[string]interface{}{
		"device_id": deviceID, "slot": d.Slot, "activated": res.Activated,
	}); err != nil {
		return nil, err
	}
	res.Bound = true
	res.Device = d
	return res, nil
}

// freeSlot returns the lowest slot not used by devices.
func freeSlot(devices []models.Device) int {
	used := make(map[int]bool, len(devices))
	for _, d := range devices {
		used[d.Slot] = true
	}
	for slot := 1; slot <= models.MaxDevicesPerLicense; slot++ {
		if !used[slot] {
			return slot
		}
	}
	return models.MaxDevicesPerLicense + 1
}

func (b *Binder) recordRegistration(res *RegisterResult) {
	if res.AlreadyRegistered {
		b.m.DeviceRegistration("already_registered")
		return
	}
	b.m.DeviceRegistration("bound")
	if res.Activated {
		b.m.Activation()
	}
	b.lg.Infow("device registered", "license_id", res.License.ID, "device_id", res.Device.DeviceID, "slot", res.Device.Slot)
}

// RemoveDevice unbinds a device from the license identified by key.
// deviceRef is the device row id or the client-supplied device id.
func (b *Binder) RemoveDevice(ctx context.Context, key, deviceRef string) error {
	if err := required(key, "license key"); err != nil {
		return err
	}
	if err := required(deviceRef, "device id"); err != nil {
		return err
	}
	l, err := b.st.LicenseByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrLicenseNotFound
	}
	if err != nil {
		return err
	}

	d, err := b.st.DeviceByID(ctx, deviceRef)
	if errors.Is(err, store.ErrNotFound) {
		d, err = b.st.DeviceByLicense(ctx, l.ID, deviceRef)
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrDeviceNotFound
	}
	if err != nil {
		return err
	}
	if d.LicenseID != l.ID {
		return apperr.ErrDeviceMismatch
	}

	if err := b.st.DeleteDevice(ctx, d.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrDeviceNotFound
		}
		return err
	}
	if err := b.st.Audit(ctx, "device.removed", l.UserID, l.ID, map[string]interface{}{"device_id": d.DeviceID}); err != nil {
		b.lg.Warnw("audit write failed", "action", "device.removed", "error", err)
	}
	b.lg.Infow("device removed", "license_id", l.ID, "device_id", d.DeviceID)
	return nil
}

// BuyLicense creates an inactive paid license and emails its key.
func (b *Binder) BuyLicense(ctx context.Context, userID, licenseType string) (*models.License, error) {
	switch licenseType {
	case models.TypeStandard, models.TypePremium, models.TypeEnterprise:
	case "":
		return nil, apperr.Validation("license type is required")
	default:
		return nil, apperr.Validation("license type must be one of standard, premium, enterprise")
	}
	u, err := b.st.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var l *models.License
	err = b.st.Transaction(ctx, func(tx *store.Store) error {
		var err error
		l, err = b.createLicense(ctx, tx, u.ID, licenseType, PrefixPaid, models.StatusInactive)
		return err
	})
	if err != nil {
		return nil, err
	}

	subject, html := mailer.LicenseKeyEmail(l.LicenseKey)
	if err := b.mail.Send(ctx, u.Email, subject, html); err != nil {
		b.lg.Errorw("license email failed", "license_id", l.ID, "error", err)
	}
	return l, nil
}

// CreateFreeLicense grants the active free-tier license.
func (b *Binder) CreateFreeLicense(ctx context.Context, userID string) (*models.License, error) {
	return b.CreateFreeLicenseTx(ctx, b.st, userID)
}

// CreateFreeLicenseTx is CreateFreeLicense bound to tx.
func (b *Binder) CreateFreeLicenseTx(ctx context.Context, tx *store.Store, userID string) (*models.License, error) {
	if _, err := tx.UserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, err
	}
	return b.createLicense(ctx, tx, userID, models.TypeFree, PrefixFree, models.StatusActive)
}

// createLicense draws keys until one is unused. Checking before insert
// keeps a surrounding postgres transaction usable.
func (b *Binder) createLicense(ctx context.Context, st *store.Store, userID, licenseType, prefix, status string) (*models.License, error) {
	var key string
	for i := 0; i < keyAttempts; i++ {
		k, err := NewKey(prefix)
		if err != nil {
			return nil, err
		}
		_, err = st.LicenseByKey(ctx, k)
		if errors.Is(err, store.ErrNotFound) {
			key = k
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if key == "" {
		return nil, apperr.ErrLicenseKeyCollisions
	}

	l := &models.License{LicenseKey: key, Type: licenseType, Status: status, UserID: userID}
	if err := st.CreateLicense(ctx, l); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.ErrLicenseKeyCollisions.Wrap(err)
		}
		return nil, err
	}
	if err := st.Audit(ctx, "license.created", userID, l.ID, map[string]interface{}{"type": licenseType}); err != nil {
		return nil, err
	}
	b.m.LicenseIssued(licenseType)
	return l, nil
}

func (b *Binder) LicenseByKey(ctx context.Context, key string) (*models.License, error) {
	l, err := b.st.LicenseByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrLicenseNotFound
	}
	return l, err
}

func (b *Binder) LicenseByID(ctx context.Context, id string) (*models.License, error) {
	l, err := b.st.LicenseByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrLicenseNotFound
	}
	return l, err
}

// ListDevices returns the license and its devices ordered by slot.
func (b *Binder) ListDevices(ctx context.Context, key string) (*models.License, []models.Device, error) {
	l, err := b.LicenseByKey(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	devices, err := b.st.DevicesByLicense(ctx, l.ID)
	if err != nil {
		return nil, nil, err
	}
	return l, devices, nil
}

func (b *Binder) DevicesByLicenseID(ctx context.Context, id string) ([]models.Device, error) {
	l, err := b.LicenseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.st.DevicesByLicense(ctx, l.ID)
}

func (b *Binder) UserLicenses(ctx context.Context, userID string) ([]models.License, error) {
	if _, err := b.st.UserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, err
	}
	return b.st.LicensesByUser(ctx, userID)
}

// HasActiveDevice reports whether deviceID is bound to an active license of
// userID.
func (b *Binder) HasActiveDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	return b.st.HasActiveDevice(ctx, userID, deviceID)
}

func (b *Binder) DeleteLicense(ctx context.Context, id string) error {
	l, err := b.LicenseByID(ctx, id)
	if err != nil {
		return err
	}
	if err := b.st.DeleteLicense(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrLicenseNotFound
		}
		return err
	}
	if err := b.st.Audit(ctx, "license.deleted", l.UserID, l.ID, nil); err != nil {
		b.lg.Warnw("audit write failed", "action", "license.deleted", "error", err)
	}
	return nil
}

func (b *Binder) DeleteDeviceByID(ctx context.Context, id string) error {
	d, err := b.st.DeviceByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrDeviceNotFound
	}
	if err != nil {
		return err
	}
	if err := b.st.DeleteDevice(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrDeviceNotFound
		}
		return err
	}
	if err := b.st.Audit(ctx, "device.removed", "", d.LicenseID, map[string]interface{}{"device_id": d.DeviceID, "by": "admin"}); err != nil {
		b.lg.Warnw("audit write failed", "action", "device.removed", "error", err)
	}
	return nil
}
