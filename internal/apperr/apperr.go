package apperr

import "fmt"

// Kind groups errors by who is at fault and how callers should react.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindAuth          Kind = "AUTH"
	KindConfiguration Kind = "CONFIGURATION"
	KindIntegrity     Kind = "INTEGRITY"
)

// Error is the structured failure returned at service boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that a wrapped or re-messaged copy still compares
// equal to its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation builds an ad-hoc caller-input error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: message}
}

var (
	ErrValidation = New(KindValidation, "VALIDATION_FAILED", "request validation failed")

	ErrUserNotFound    = New(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrClientNotFound  = New(KindNotFound, "CLIENT_NOT_FOUND", "client not found")
	ErrLicenseNotFound = New(KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	ErrLicenseInactive = New(KindNotFound, "LICENSE_INACTIVE", "license not found or inactive")
	ErrDeviceNotFound  = New(KindNotFound, "DEVICE_NOT_FOUND", "device not found")
	ErrTokenNotFound   = New(KindNotFound, "TOKEN_NOT_FOUND", "token not found")

	ErrEmailTaken           = New(KindConflict, "EMAIL_TAKEN", "email already registered")
	ErrDeviceLimitExceeded  = New(KindConflict, "DEVICE_LIMIT_EXCEEDED", "maximum number of devices reached")
	ErrDeviceMismatch       = New(KindConflict, "DEVICE_MISMATCH", "device does not belong to this license")
	ErrLicenseKeyCollisions = New(KindConflict, "LICENSE_KEY_COLLISION", "could not allocate a unique license key")
	ErrRegistrationBusy     = New(KindConflict, "DEVICE_REGISTRATION_BUSY", "concurrent device registrations, please retry")

	ErrInvalidCredentials  = New(KindAuth, "INVALID_CREDENTIALS", "invalid password")
	ErrEmailNotConfirmed   = New(KindAuth, "EMAIL_NOT_CONFIRMED", "email not verified, please confirm your email")
	ErrInvalidToken        = New(KindAuth, "INVALID_TOKEN", "invalid token")
	ErrInvalidRefreshToken = New(KindAuth, "INVALID_REFRESH_TOKEN", "invalid refresh token")
	ErrRefreshTokenExpired = New(KindAuth, "REFRESH_TOKEN_EXPIRED", "refresh token expired")
	ErrRevocationFailed    = New(KindAuth, "REVOCATION_FAILED", "failed to revoke token")
	ErrInvalidClient       = New(KindAuth, "INVALID_CLIENT", "invalid client credentials")
	ErrUnsupportedGrant    = New(KindAuth, "UNSUPPORTED_GRANT", "grant not allowed for this client")
	ErrMissingCredentials  = New(KindAuth, "MISSING_CREDENTIALS", "authorization credentials are missing")
	ErrResetTokenExpired   = New(KindAuth, "RESET_TOKEN_EXPIRED", "password reset token expired")
	ErrForbidden           = New(KindAuth, "FORBIDDEN", "access denied")

	ErrMissingSigningSecret = New(KindConfiguration, "MISSING_SIGNING_SECRET", "token signing secret is not configured")

	ErrNoClientForUser = New(KindIntegrity, "NO_CLIENT_FOR_USER", "no oauth client found for user")
)
