package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/auth"
	"licensehub/internal/session"
)

type registerReq struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	UserName  string `json:"user_name,omitempty" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
}

func Register(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		acct, err := c.Register(r.Context(), session.RegisterInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			UserName:  req.UserName,
			Email:     req.Email,
			Password:  req.Password,
		})
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusCreated, map[string]interface{}{
			"success": true,
			"message": "registration successful, please confirm your email",
			"user":    acct.User,
			"license": acct.License,
		})
	}
}

func ConfirmEmail(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := c.ConfirmEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("email confirmed"))
	}
}

type loginReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func Login(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		res, err := c.Login(r.Context(), req.Email, req.Password, r.Header.Get(auth.HeaderDeviceID))
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{
			"success":     true,
			"user":        res.User,
			"token":       res.Tokens,
			"redirect_to": res.RedirectTo,
			"client": map[string]string{
				"client_id":     res.Client.OAuthClientID,
				"client_secret": res.Client.ClientSecret,
			},
		})
	}
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func Refresh(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		pair, err := c.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]interface{}{"success": true, "token": pair})
	}
}

func Logout(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		if err := c.Logout(r.Context(), auth.Subject(r.Context()), req.RefreshToken); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("logged out"))
	}
}

func Me(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := c.User(r.Context(), auth.Subject(r.Context()))
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, u)
	}
}

type updateMeReq struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	UserName  *string `json:"user_name" validate:"omitempty,max=100"`
}

func UpdateMe(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateMeReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		u, err := c.UpdateProfile(r.Context(), auth.Subject(r.Context()), session.ProfileUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			UserName:  req.UserName,
		})
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, u)
	}
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

func ChangePassword(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		if err := c.ChangePassword(r.Context(), auth.Subject(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("password changed"))
	}
}

type forgotPasswordReq struct {
	Email string `json:"email" validate:"required,email"`
}

func ForgotPassword(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forgotPasswordReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		if err := c.RequestPasswordReset(r.Context(), req.Email); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("if the account exists, a reset link has been sent"))
	}
}

type resetPasswordReq struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func ResetPassword(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetPasswordReq
		if err := bind(r, &req); err != nil {
			writeError(w, r, lg, err)
			return
		}
		if err := c.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, message("password has been reset"))
	}
}

// identity returns the caller or fails with MISSING_CREDENTIALS when the
// route was mounted without authentication.
func identity(r *http.Request) (*auth.Identity, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, apperr.ErrMissingCredentials
	}
	return id, nil
}
