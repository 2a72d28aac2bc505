package ipc

import (
	"context"
	"net"
	"net/http"
)

// Server wraps an HTTP server with backdp routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: NewRouter(h),
	}

	return &Server{
		httpServer: srv,
	}
}

// NewRouter returns the API routes wrapped in CORS handling.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Run endpoints.
	mux.HandleFunc("POST /api/v1/runs", h.CreateRun)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{runID}", h.GetRun)

	// Event endpoints.
	mux.HandleFunc("GET /api/v1/runs/{runID}/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/runs/{runID}/events/stream", h.StreamEvents)

	// Result endpoints.
	mux.HandleFunc("GET /api/v1/runs/{runID}/policy", h.GetPolicy)
	mux.HandleFunc("GET /api/v1/runs/{runID}/performance", h.GetPerformance)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	return corsMiddleware(mux)
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// FormatListenURL turns a listen address into a browsable URL.
// An empty or unspecified host becomes localhost.
func FormatListenURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// corsMiddleware adds CORS headers for local browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
