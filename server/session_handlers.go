package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/tallerpinturas/go-gallery-gateway/auth"
	"github.com/tallerpinturas/go-gallery-gateway/broker"
	"github.com/tallerpinturas/go-gallery-gateway/sessionwatch"
	"github.com/tallerpinturas/go-gallery-gateway/users"
)

// connectivityMessage is shown when the backend profile service cannot be
// reached during login. The provider considers the user logged in, the
// application does not.
const connectivityMessage = "Error de conexión con el servidor."

// IndexHandler reports the application status at the root.
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"app":     s.config.AppName,
			"session": s.deps.Watcher.Flags(),
		})
	}
}

// LoginHandler starts an interactive login by redirecting the user agent to
// the provider's authorization endpoint.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge, err := s.deps.Broker.BeginLogin(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("begin login failed")
			http.Error(w, connectivityMessage, http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, challenge.URL, http.StatusSeeOther)
	}
}

// CallbackHandler resolves the provider callback: it completes the login,
// reconciles the identity against the backend, refreshes the watcher, and
// lands the user on the gallery.
//
// A cancelled login returns the user silently to the root. A failed backend
// sync surfaces the connectivity alert and leaves no session behind.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue reads both query params (GET) and form data
		// (POST form_post response mode).
		cb := broker.Callback{
			State:            r.FormValue("state"),
			Code:             r.FormValue("code"),
			Error:            r.FormValue("error"),
			ErrorDescription: r.FormValue("error_description"),
		}

		identity, err := s.deps.Broker.CompleteLogin(r.Context(), cb)
		switch {
		case err == nil:
		case errors.Is(err, broker.LoginCancelledErr):
			http.Redirect(w, r, RouteIndex, http.StatusSeeOther)
			return
		case errors.Is(err, broker.UnknownStateErr):
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		default:
			s.log.Error().Err(err).Msg("login completion failed")
			http.Error(w, "Login failed", http.StatusBadGateway)
			return
		}

		if _, err := s.deps.Service.Reconcile(r.Context(), identity); err != nil {
			if errors.Is(err, auth.SyncFailedErr) {
				s.log.Error().Err(err).Msg("backend unreachable during login")
				http.Error(w, connectivityMessage, http.StatusBadGateway)
				return
			}
			s.log.Error().Err(err).Msg("reconciliation failed")
			http.Error(w, "Login failed", http.StatusInternalServerError)
			return
		}

		s.deps.Watcher.Revalidate()
		http.Redirect(w, r, s.config.PostLoginPath, http.StatusSeeOther)
	}
}

// LogoutHandler clears the persisted session and hands the user agent to the
// provider's interactive logout.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectURL, err := s.deps.Service.Logout(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("logout failed")
			http.Error(w, "Logout failed", http.StatusInternalServerError)
			return
		}

		s.deps.Watcher.Revalidate()
		http.Redirect(w, r, redirectURL, http.StatusSeeOther)
	}
}

// sessionResponse is what the UI polls to decide what to render.
type sessionResponse struct {
	sessionwatch.Flags
	User *users.User `json:"usuario_app,omitempty"`
}

// SessionHandler returns the derived session flags plus the persisted user
// record, when one exists.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := sessionResponse{Flags: s.deps.Watcher.Flags()}

		user, ok, err := s.deps.Store.User(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("session store read failed")
			http.Error(w, "Session unavailable", http.StatusInternalServerError)
			return
		}
		if ok {
			resp.User = &user
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// UsersHandler lists all backend users. Privileged role only.
func (s *Server) UsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.deps.Service.Users(r.Context())
		if err != nil {
			if errors.Is(err, auth.NotPrivilegedErr) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			s.log.Error().Err(err).Msg("user listing failed")
			http.Error(w, connectivityMessage, http.StatusBadGateway)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}

// HealthHandler reports process liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
