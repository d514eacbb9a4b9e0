package session

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"licensehub/internal/apperr"
	"licensehub/internal/mailer"
	"licensehub/internal/models"
	"licensehub/internal/store"
)

const minPasswordLength = 8

type RegisterInput struct {
	FirstName string
	LastName  string
	UserName  string
	Email     string
	Password  string
}

type Account struct {
	User    *models.User    `json:"user"`
	Client  *models.Client  `json:"-"`
	License *models.License `json:"license,omitempty"`
}

// UserUpdate is an administrative edit; nil fields are left alone.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Password  *string
	IsAdmin   *bool
}

type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	UserName  *string
}

// CheckPassword enforces the password policy: at least 8 characters with
// a digit, a lowercase and an uppercase letter.
func CheckPassword(pw string) error {
	if len(pw) < minPasswordLength {
		return apperr.Validation("password must be at least 8 characters long")
	}
	var digit, lower, upper bool
	for _, r := range pw {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		}
	}
	if !digit || !lower || !upper {
		return apperr.Validation("password must contain a digit, a lowercase and an uppercase letter")
	}
	return nil
}

// Register creates the user, its OAuth client and a free license in one
// transaction, then emails the confirmation link.
func (c *Controller) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	switch {
	case strings.TrimSpace(in.FirstName) == "":
		return nil, apperr.Validation("first name is required")
	case strings.TrimSpace(in.LastName) == "":
		return nil, apperr.Validation("last name is required")
	case strings.TrimSpace(in.Email) == "":
		return nil, apperr.Validation("email is required")
	}
	if err := c.validate.Var(strings.TrimSpace(in.Email), "email"); err != nil {
		return nil, apperr.Validation("email is not a valid address")
	}
	if err := CheckPassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := c.st.UserByEmail(ctx, in.Email); err == nil {
		return nil, apperr.ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	confirm := uuid.NewString()
	u := &models.User{
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		UserName:          strings.TrimSpace(in.UserName),
		Email:             in.Email,
		Password:          in.Password,
		ConfirmationToken: &confirm,
	}
	acct, err := c.createAccount(ctx, u)
	if err != nil {
		return nil, err
	}

	link := c.opts.BaseURL + "/v1/auth/confirm-email?token=" + url.QueryEscape(confirm)
	subject, html := mailer.ConfirmationEmail(u.FirstName, link, acct.License.LicenseKey)
	if err := c.mail.Send(ctx, u.Email, subject, html); err != nil {
		c.lg.Errorw("confirmation email failed", "user_id", u.ID, "error", err)
	}
	c.lg.Infow("user registered", "user_id", u.ID)
	return acct, nil
}

func (c *Controller) createAccount(ctx context.Context, u *models.User) (*Account, error) {
	if u.UserName == "" {
		u.UserName = strings.ToLower(strings.TrimSpace(u.Email))
	}
	acct := &Account{User: u}
	err := c.st.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.ErrEmailTaken
			}
			return err
		}
		client := &models.Client{
			UserID:        u.ID,
			OAuthClientID: uuid.NewString(),
			ClientSecret:  uuid.NewString(),
			Grants:        models.StringList{models.GrantPassword, models.GrantRefreshToken},
		}
		if err := tx.CreateClient(ctx, client); err != nil {
			return err
		}
		acct.Client = client

		l, err := c.binder.CreateFreeLicenseTx(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		acct.License = l
		return tx.Audit(ctx, "user.registered", u.ID, l.ID, nil)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// SeedAdmin creates a confirmed administrator unless the email exists.
func (c *Controller) SeedAdmin(ctx context.Context, email, password string) (bool, error) {
	if err := CheckPassword(password); err != nil {
		return false, err
	}
	if _, err := c.st.UserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	u := &models.User{
		FirstName:      "Admin",
		LastName:       "Admin",
		Email:          email,
		Password:       password,
		EmailConfirmed: true,
		IsAdmin:        true,
	}
	if _, err := c.createAccount(ctx, u); err != nil {
		return false, err
	}
	c.lg.Infow("seeded default admin", "email", u.Email)
	return true, nil
}

func (c *Controller) ConfirmEmail(ctx context.Context, confirmToken string) (*models.User, error) {
	if confirmToken == "" {
		return nil, apperr.Validation("confirmation token is required")
	}
	u, err := c.st.UserByConfirmationToken(ctx, confirmToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrTokenNotFound.WithMessage("invalid confirmation token")
	}
	if err != nil {
		return nil, err
	}
	u.EmailConfirmed = true
	u.ConfirmationToken = nil
	if err := c.st.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	c.audit(ctx, "user.email_confirmed", u.ID, nil)
	return u, nil
}

// RequestPasswordReset emails a reset link. Unknown emails succeed silently.
func (c *Controller) RequestPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return apperr.Validation("email is required")
	}
	u, err := c.st.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		c.lg.Debugw("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	tok := uuid.NewString()
	expires := c.tokens.Now().UTC().Add(c.opts.ResetTTL)
	u.ResetPasswordToken = &tok
	u.ResetPasswordExpires = &expires
	if err := c.st.SaveUser(ctx, u); err != nil {
		return err
	}

	link := c.opts.BaseURL + "/reset-password?token=" + url.QueryEscape(tok)
	subject, html := mailer.PasswordResetEmail(link, c.opts.ResetTTL.String())
	if err := c.mail.Send(ctx, u.Email, subject, html); err != nil {
		c.lg.Errorw("password reset email failed", "user_id", u.ID, "error", err)
	}
	return nil
}

func (c *Controller) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" {
		return apperr.Validation("reset token is required")
	}
	if err := CheckPassword(newPassword); err != nil {
		return err
	}
	u, err := c.st.UserByResetToken(ctx, resetToken)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrTokenNotFound.WithMessage("invalid password reset token")
	}
	if err != nil {
		return err
	}
	if u.ResetPasswordExpires == nil || !c.tokens.Now().Before(*u.ResetPasswordExpires) {
		return apperr.ErrResetTokenExpired
	}
	u.Password = newPassword
	u.ResetPasswordToken = nil
	u.ResetPasswordExpires = nil
	if err := c.st.SaveUser(ctx, u); err != nil {
		return err
	}
	c.audit(ctx, "user.password_reset", u.ID, nil)
	return nil
}

func (c *Controller) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := c.st.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	verified, err := c.st.VerifyUserCredentials(ctx, u.Email, current)
	if err != nil {
		return err
	}
	if verified == nil {
		return apperr.ErrInvalidCredentials.WithMessage("current password is incorrect")
	}
	if err := CheckPassword(next); err != nil {
		return err
	}
	u.Password = next
	if err := c.st.SaveUser(ctx, u); err != nil {
		return err
	}
	c.audit(ctx, "user.password_changed", u.ID, nil)
	return nil
}

func (c *Controller) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*models.User, error) {
	u, err := c.st.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if in.FirstName != nil {
		if strings.TrimSpace(*in.FirstName) == "" {
			return nil, apperr.Validation("first name cannot be empty")
		}
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		if strings.TrimSpace(*in.LastName) == "" {
			return nil, apperr.Validation("last name cannot be empty")
		}
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.UserName != nil {
		u.UserName = strings.TrimSpace(*in.UserName)
	}
	if err := c.st.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Controller) checkEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return apperr.Validation("email is required")
	}
	if err := c.validate.Var(strings.TrimSpace(email), "email"); err != nil {
		return apperr.Validation("email is not a valid address")
	}
	return nil
}

// AdminCreateUser creates a confirmed account, with its client and free
// license, on behalf of an administrator. No confirmation email is sent.
func (c *Controller) AdminCreateUser(ctx context.Context, in RegisterInput, isAdmin bool) (*Account, error) {
	switch {
	case strings.TrimSpace(in.FirstName) == "":
		return nil, apperr.Validation("first name is required")
	case strings.TrimSpace(in.LastName) == "":
		return nil, apperr.Validation("last name is required")
	}
	if err := c.checkEmail(in.Email); err != nil {
		return nil, err
	}
	if err := CheckPassword(in.Password); err != nil {
		return nil, err
	}
	if _, err := c.st.UserByEmail(ctx, in.Email); err == nil {
		return nil, apperr.ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	u := &models.User{
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		UserName:       strings.TrimSpace(in.UserName),
		Email:          in.Email,
		Password:       in.Password,
		EmailConfirmed: true,
		IsAdmin:        isAdmin,
	}
	acct, err := c.createAccount(ctx, u)
	if err != nil {
		return nil, err
	}
	c.lg.Infow("user created by admin", "user_id", u.ID, "is_admin", isAdmin)
	return acct, nil
}

// AdminUpdateUser edits names, email, password and the admin flag.
func (c *Controller) AdminUpdateUser(ctx context.Context, id string, in UserUpdate) (*models.User, error) {
	u, err := c.st.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if in.FirstName != nil {
		if strings.TrimSpace(*in.FirstName) == "" {
			return nil, apperr.Validation("first name cannot be empty")
		}
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		if strings.TrimSpace(*in.LastName) == "" {
			return nil, apperr.Validation("last name cannot be empty")
		}
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		if err := c.checkEmail(*in.Email); err != nil {
			return nil, err
		}
		other, err := c.st.UserByEmail(ctx, *in.Email)
		switch {
		case err == nil && other.ID != u.ID:
			return nil, apperr.ErrEmailTaken
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		u.Email = *in.Email
	}
	if in.Password != nil {
		if err := CheckPassword(*in.Password); err != nil {
			return nil, err
		}
		u.Password = *in.Password
	}
	if in.IsAdmin != nil {
		u.IsAdmin = *in.IsAdmin
	}

	if err := c.st.SaveUser(ctx, u); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.ErrEmailTaken
		}
		return nil, err
	}
	c.audit(ctx, "user.updated_by_admin", u.ID, map[string]interface{}{
		"email_changed": in.Email != nil, "password_changed": in.Password != nil, "is_admin": u.IsAdmin,
	})
	return u, nil
}

func (c *Controller) User(ctx context.Context, id string) (*models.User, error) {
	u, err := c.st.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	return u, err
}

func (c *Controller) ListUsers(ctx context.Context) ([]models.User, error) {
	return c.st.ListUsers(ctx)
}

// DeleteUser removes the user with everything it owns.
func (c *Controller) DeleteUser(ctx context.Context, id string) error {
	if err := c.st.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrUserNotFound
		}
		return err
	}
	c.audit(ctx, "user.deleted", id, nil)
	return nil
}

// AuditLogs returns the caller's recent audit entries, or everyone's when
// all is set.
func (c *Controller) AuditLogs(ctx context.Context, userID string, all bool) ([]models.AuditLog, error) {
	if all {
		userID = ""
	}
	return c.st.AuditLogs(ctx, userID)
}
