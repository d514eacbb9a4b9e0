package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"licensehub/internal/auth"
	"licensehub/internal/session"
)

// MyLogs returns recent audit logs of the caller. Administrators can pass
// ?all=1 to see everyone's.
func MyLogs(c *session.Controller, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		all := r.URL.Query().Get("all") == "1" && id.IsAdmin()
		logs, err := c.AuditLogs(r.Context(), id.UserID(), all)
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		respondJSON(w, r, http.StatusOK, logs)
	}
}
