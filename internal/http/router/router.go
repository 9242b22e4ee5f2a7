// Package router arma el árbol de rutas de la API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	adminctrl "github.com/dropDatabas3/aegis/internal/http/controllers/admin"
	mfactrl "github.com/dropDatabas3/aegis/internal/http/controllers/mfa"
	securityctrl "github.com/dropDatabas3/aegis/internal/http/controllers/security"
	sessionctrl "github.com/dropDatabas3/aegis/internal/http/controllers/session"
	ssoctrl "github.com/dropDatabas3/aegis/internal/http/controllers/sso"
	httperr "github.com/dropDatabas3/aegis/internal/http/errors"
	"github.com/dropDatabas3/aegis/internal/http/helpers"
	mw "github.com/dropDatabas3/aegis/internal/http/middlewares"
	"github.com/dropDatabas3/aegis/internal/rate"
)

// Deps contiene todo lo que el router necesita para armarse.
type Deps struct {
	SSO      *ssoctrl.Controller
	Session  *sessionctrl.Controller
	MFA      *mfactrl.Controller
	Security *securityctrl.Controller
	Admin    *adminctrl.ProvidersController

	AdminAPIKey  string
	LoginLimiter rate.Limiter // opcional
	MFALimiter   rate.Limiter // opcional

	Metrics http.Handler // promhttp, expuesto bajo el plano admin
	Ready   func() error // chequeo de dependencias para /readyz
}

// New construye el router con los middlewares globales y todas las rutas.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.WithRequestID())
	r.Use(mw.WithLogging())
	r.Use(mw.WithRecover())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				httperr.WriteError(w, httperr.ErrServiceUnavailable.WithCause(err))
				return
			}
		}
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/v1", func(r chi.Router) {
		// Flujo de federación. El begin y el callback van rate-limiteados
		// por IP: son la puerta de entrada no autenticada.
		r.Group(func(r chi.Router) {
			if deps.LoginLimiter != nil {
				r.Use(mw.WithRateLimit(deps.LoginLimiter, mw.KeyByIP))
			}
			r.Post("/sso/providers/{providerID}/login", deps.SSO.Begin)
			r.Get("/sso/callback", deps.SSO.Callback)
			r.Post("/sso/callback", deps.SSO.Callback)
		})

		// Sesiones del bearer.
		r.Post("/sessions/validate", deps.Session.Validate)
		r.Post("/sessions/rotate", deps.Session.Rotate)
		r.Post("/sessions/logout", deps.SSO.Logout)
		r.Post("/sessions/logout-all", deps.Session.LogoutAll)

		// Segundo factor, rate-limiteado aparte: el lockout protege por
		// identidad, el limiter protege por IP.
		r.Group(func(r chi.Router) {
			if deps.MFALimiter != nil {
				r.Use(mw.WithRateLimit(deps.MFALimiter, mw.KeyByIP))
			}
			r.Post("/mfa/setup", deps.MFA.Setup)
			r.Post("/mfa/confirm", deps.MFA.Confirm)
			r.Post("/mfa/verify", deps.MFA.Verify)
			r.Post("/mfa/disable", deps.MFA.Disable)
			r.Post("/mfa/backup-codes", deps.MFA.RegenerateBackupCodes)
		})

		// Plano administrativo, detrás de la API key.
		r.Route("/admin", func(r chi.Router) {
			r.Use(mw.RequireAPIKey(deps.AdminAPIKey))

			r.Post("/providers", deps.Admin.Create)
			r.Get("/providers", deps.Admin.List)
			r.Get("/providers/{providerID}", deps.Admin.Get)
			r.Put("/providers/{providerID}", deps.Admin.Update)
			r.Delete("/providers/{providerID}", deps.Admin.Delete)

			r.Get("/identities/{identityID}/sessions", deps.Session.AdminList)
			r.Delete("/identities/{identityID}/sessions", deps.Session.AdminRevokeAll)
			r.Get("/orgs/{orgID}/sessions/stats", deps.Session.AdminStats)

			r.Get("/alerts", deps.Security.ListAlerts)
			r.Post("/alerts/{alertID}/resolve", deps.Security.ResolveAlert)
			r.Get("/audit", deps.Security.QueryAudit)
			r.Get("/audit/export", deps.Security.ExportAudit)

			if deps.Metrics != nil {
				r.Handle("/metrics", deps.Metrics)
			}
		})
	})

	return r
}
