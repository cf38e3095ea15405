package assistant

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/assetcache"
)

// Server exposes the capture workflow over HTTP. It is JSON-only glue around
// the service; the core components never see a request.
type Server struct {
	service   *Service
	cache     *assetcache.Cache
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, cache *assetcache.Cache, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, cache, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, cache *assetcache.Cache, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		cache:     cache,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="FactureKiller"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Invoices (most specific paths first)
	s.mux.HandleFunc("DELETE /api/invoices/{id}/pages/{pageID}", s.requireAuth(s.handleRemovePage))
	s.mux.HandleFunc("POST /api/invoices/{id}/pages", s.requireAuth(s.handleAddPage))
	s.mux.HandleFunc("POST /api/invoices/{id}/submit", s.requireAuth(s.handleSubmit))
	s.mux.HandleFunc("GET /api/invoices/current", s.requireAuth(s.handleCurrentInvoice))
	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("DELETE /api/invoices/{id}", s.requireAuth(s.handleDiscardInvoice))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("POST /api/invoices", s.requireAuth(s.handleStartInvoice))

	// History
	s.mux.HandleFunc("GET /api/history/{id}", s.requireAuth(s.handleGetHistoryRecord))
	s.mux.HandleFunc("GET /api/history", s.requireAuth(s.handleListHistory))

	// Reminder and asset cache control
	s.mux.HandleFunc("POST /api/reminder/dismiss", s.requireAuth(s.handleDismissReminder))
	s.mux.HandleFunc("POST /api/cache/activate", s.requireAuth(s.handleActivateCache))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
