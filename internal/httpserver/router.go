package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"licensehub/internal/auth"
	"licensehub/internal/httpserver/handlers"
	"licensehub/internal/licensing"
	"licensehub/internal/metrics"
	"licensehub/internal/session"
	"licensehub/internal/store"
	"licensehub/internal/token"
)

type Deps struct {
	Store   *store.Store
	Session *session.Controller
	Tokens  *token.Service
	Binder  *licensing.Binder
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

func NewRouter(d Deps) http.Handler {
	lg := d.Logger
	fail := handlers.ErrorWriter(lg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger(lg), middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			lg.Warnw("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Post("/v1/auth/register", handlers.Register(d.Session, lg))
	r.Get("/v1/auth/confirm-email", handlers.ConfirmEmail(d.Session, lg))
	r.Post("/v1/auth/login", handlers.Login(d.Session, lg))
	r.Post("/v1/auth/refresh", handlers.Refresh(d.Session, lg))
	r.Post("/v1/auth/password/forgot", handlers.ForgotPassword(d.Session, lg))
	r.Post("/v1/auth/password/reset", handlers.ResetPassword(d.Session, lg))
	r.Post("/v1/oauth/token", handlers.OAuthToken(d.Session, d.Tokens, lg))

	r.Group(func(protected chi.Router) {
		protected.Use(auth.Authenticate(d.Session, fail))
		protected.Get("/v1/me", handlers.Me(d.Session, lg))
		protected.Patch("/v1/me", handlers.UpdateMe(d.Session, lg))
		protected.Post("/v1/auth/logout", handlers.Logout(d.Session, lg))
		protected.Post("/v1/auth/password", handlers.ChangePassword(d.Session, lg))

		protected.Get("/v1/licenses", handlers.ListLicenses(d.Binder, lg))
		protected.Post("/v1/licenses/buy", handlers.BuyLicense(d.Binder, lg))
		protected.Post("/v1/licenses/activate", handlers.ActivateLicense(d.Binder, lg))
		protected.Post("/v1/licenses/validate", handlers.ValidateLicense(d.Binder, false, lg))
		protected.Post("/v1/licenses/activate-and-validate", handlers.ValidateLicense(d.Binder, true, lg))

		protected.Get("/v1/devices/{licenseKey}", handlers.ListDevices(d.Binder, lg))
		protected.Post("/v1/devices/add", handlers.AddDevice(d.Binder, lg))
		protected.Post("/v1/devices/remove", handlers.RemoveDevice(d.Binder, lg))

		protected.Get("/v1/logs", handlers.MyLogs(d.Session, lg))

		protected.Group(func(admin chi.Router) {
			admin.Use(auth.RequireAdmin(fail))
			admin.Get("/v1/admin/users", handlers.ListUsers(d.Session, lg))
			admin.Post("/v1/admin/users", handlers.CreateUser(d.Session, lg))
			admin.Get("/v1/admin/users/{id}", handlers.GetUser(d.Session, d.Binder, lg))
			admin.Patch("/v1/admin/users/{id}", handlers.UpdateUser(d.Session, lg))
			admin.Delete("/v1/admin/users/{id}", handlers.DeleteUser(d.Session, lg))
			admin.Get("/v1/admin/users/{id}/licenses", handlers.UserLicenses(d.Binder, lg))
			admin.Delete("/v1/admin/licenses/{id}", handlers.DeleteLicense(d.Binder, lg))
			admin.Get("/v1/admin/licenses/{id}/devices", handlers.LicenseDevices(d.Binder, lg))
			admin.Delete("/v1/admin/devices/{id}", handlers.DeleteDevice(d.Binder, lg))
		})
	})
	return r
}
