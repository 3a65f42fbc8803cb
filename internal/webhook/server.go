package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxBodyBytes caps how much of a delivery body is read.
const maxBodyBytes = 1 << 20 // 1MB

// Server handles HTTP requests for webhook deliveries.
type Server struct {
	router     *Router
	secret     []byte
	mux        *http.ServeMux
	httpServer *http.Server
	log        zerolog.Logger
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Router *Router
	Secret []byte // HMAC secret for signature validation
	Log    zerolog.Logger
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router: cfg.Router,
		secret: cfg.Secret,
		mux:    http.NewServeMux(),
		log:    cfg.Log,
	}

	if len(s.secret) == 0 {
		s.log.Warn().Msg("no webhook secret configured; signature validation disabled")
	}

	s.mux.HandleFunc("/webhook", s.handleDelivery)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleDelivery handles POST /webhook. The signature is validated over
// the raw body before any deserialization.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	if err := ValidateSignature(body, r.Header.Get(SignatureHeader), s.secret); err != nil {
		s.log.Warn().Err(err).Msg("rejected webhook delivery")
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		s.writeError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}

	res := s.router.Dispatch(r.Context(), event, body)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Result{
		Success: false,
		Message: message,
	})
}
