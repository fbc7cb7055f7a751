// Package server is the HTTP surface of the gallery gateway: interactive
// login and logout, the provider callback, the session flags endpoint the UI
// polls, and the privileged user listing.
package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tallerpinturas/go-gallery-gateway/auth"
	"github.com/tallerpinturas/go-gallery-gateway/broker"
	"github.com/tallerpinturas/go-gallery-gateway/internal/config"
	"github.com/tallerpinturas/go-gallery-gateway/session"
	"github.com/tallerpinturas/go-gallery-gateway/sessionwatch"
)

// Deps bundles the collaborators the HTTP surface drives.
type Deps struct {
	Broker  broker.Broker
	Service *auth.Service
	Store   session.Store
	Watcher *sessionwatch.Watcher

	// Routes receives route-transition events for the watcher's loading
	// flag. Optional; a nil channel disables route tracking.
	Routes chan<- sessionwatch.RouteEvent
}

type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	mux    *http.ServeMux
	routes []string
	config config.Config
	deps   Deps
	log    zerolog.Logger
}

func New(cfg config.Config, deps Deps, log zerolog.Logger) (*Server, error) {
	if deps.Broker == nil {
		return nil, errors.New("[server.New] broker is required")
	}
	if deps.Service == nil {
		return nil, errors.New("[server.New] auth service is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[server.New] session store is required")
	}
	if deps.Watcher == nil {
		return nil, errors.New("[server.New] session watcher is required")
	}

	s := &Server{
		env:    cfg.Env,
		mux:    http.NewServeMux(),
		config: cfg,
		deps:   deps,
		log:    log,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}
