package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteIndex = "/"

	// Auth Routes - Login & Logout
	RouteLogin    = "/login"
	RouteCallback = "/callback"
	RouteLogout   = "/logout"

	// API Routes
	RouteSession = "/session"
	RouteUsers   = "/usuarios"
	RouteHealth  = "/healthz"
)
