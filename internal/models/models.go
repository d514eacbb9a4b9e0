package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"licensehub/internal/password"
)

const (
	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"

	StatusInactive = "inactive"
	StatusActive   = "active"

	TypeFree       = "free"
	TypeStandard   = "standard"
	TypePremium    = "premium"
	TypeEnterprise = "enterprise"
)

// MaxDevicesPerLicense is the device ceiling shared by every license type.
const MaxDevicesPerLicense = 3

type User struct {
	ID                   string     `gorm:"primaryKey;size:36" json:"id"`
	FirstName            string     `gorm:"size:100" json:"first_name"`
	LastName             string     `gorm:"size:100" json:"last_name"`
	UserName             string     `gorm:"size:255" json:"user_name"`
	Email                string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash         string     `gorm:"not null" json:"-"`
	Password             string     `gorm:"-" json:"-"`
	EmailConfirmed       bool       `gorm:"not null;default:false" json:"email_confirmed"`
	ConfirmationToken    *string    `gorm:"index;size:36" json:"-"`
	ResetPasswordToken   *string    `gorm:"index;size:36" json:"-"`
	ResetPasswordExpires *time.Time `json:"-"`
	IsAdmin              bool       `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave hashes Password into PasswordHash when a new plaintext was set.
func (u *User) BeforeSave(tx *gorm.DB) error {
	if u.Password == "" {
		return nil
	}
	h, err := password.Hash(u.Password)
	if err != nil {
		return err
	}
	u.PasswordHash = h
	u.Password = ""
	return nil
}

type Client struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	UserID        string     `gorm:"size:36;not null;index" json:"user_id"`
	User          *User      `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
	OAuthClientID string     `gorm:"column:oauth_client_id;uniqueIndex;not null;size:64" json:"client_id"`
	ClientSecret  string     `gorm:"not null;size:64" json:"-"`
	Grants        StringList `gorm:"not null" json:"grants"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type License struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	LicenseKey string    `gorm:"uniqueIndex;not null;size:32" json:"license_key"`
	Type       string    `gorm:"not null;size:20" json:"type"`
	Status     string    `gorm:"not null;size:16;default:inactive" json:"status"`
	UserID     string    `gorm:"size:36;not null;index" json:"user_id"`
	User       *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (l *License) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

func (l *License) Active() bool { return l.Status == StatusActive }

// Device binds a license to one installation. Slot is 1..MaxDevicesPerLicense
// and unique per license, which caps the row count at the database level.
type Device struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	LicenseID string    `gorm:"size:36;not null;uniqueIndex:idx_devices_license_device;uniqueIndex:idx_devices_license_slot" json:"license_id"`
	License   *License  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	DeviceID  string    `gorm:"size:255;not null;uniqueIndex:idx_devices_license_device" json:"device_id"`
	Slot      int       `gorm:"not null;uniqueIndex:idx_devices_license_slot" json:"slot"`
	CreatedAt time.Time `json:"created_at"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

type AccessToken struct {
	ID            string    `gorm:"primaryKey;size:36" json:"-"`
	Token         string    `gorm:"uniqueIndex;not null;size:1024" json:"access_token"`
	ExpiresAt     time.Time `gorm:"not null" json:"access_token_expires_at"`
	ClientID      string    `gorm:"size:36;not null;index" json:"-"`
	Client        *Client   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	OAuthClientID string    `gorm:"column:oauth_client_id;not null;size:64" json:"client_id"`
	UserID        string    `gorm:"size:36;not null;index" json:"user_id"`
	User          *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	PairID        string    `gorm:"size:36;not null;index" json:"-"`
	CreatedAt     time.Time `json:"-"`
}

func (t *AccessToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type RefreshToken struct {
	ID            string    `gorm:"primaryKey;size:36" json:"-"`
	Token         string    `gorm:"uniqueIndex;not null;size:1024" json:"refresh_token"`
	ExpiresAt     time.Time `gorm:"not null" json:"refresh_token_expires_at"`
	ClientID      string    `gorm:"size:36;not null;index" json:"-"`
	Client        *Client   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	OAuthClientID string    `gorm:"column:oauth_client_id;not null;size:64" json:"client_id"`
	UserID        string    `gorm:"size:36;not null;index" json:"user_id"`
	User          *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	PairID        string    `gorm:"size:36;not null;index" json:"-"`
	CreatedAt     time.Time `json:"-"`
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// AuditLog rows outlive the users and licenses they mention.
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *string   `gorm:"size:36;index" json:"user_id,omitempty"`
	LicenseID *string   `gorm:"size:36" json:"license_id,omitempty"`
	Action    string    `gorm:"not null;size:64" json:"action"`
	Metadata  JSONB     `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{}, &Client{}, &License{}, &Device{}, &AccessToken{}, &RefreshToken{}, &AuditLog{},
	}
}
