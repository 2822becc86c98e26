// Package server exposes a browser.Service over HTTP.
//
// The router authenticates callers, decodes JSON parameters and maps failed
// envelopes to HTTP status codes. It never touches browser processes or
// session locks directly; every page operation goes through the dispatcher.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/logging"
)

// maxBodyBytes bounds request bodies. Scripts and login forms are small.
const maxBodyBytes = 1 << 20

// Config configures the HTTP server.
type Config struct {
	Addr string

	// APIToken, when set, is required as a bearer token on /v1 and /metrics
	APIToken string

	Logger *logging.Logger
}

// Server routes HTTP requests to a browser service.
type Server struct {
	svc    *browser.Service
	cfg    Config
	logger *logging.Logger
	router chi.Router
	http   *http.Server
}

// New builds the router for svc.
func New(svc *browser.Service, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(s.requestID)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealthz)
	r.With(s.authMiddleware).Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/actions", s.handleListActions)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleCloseSession)
			r.Post("/{id}/actions/{action}", s.handleAction)
		})
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("listening on %s", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type ctxKey int

const requestIDKey ctxKey = iota

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Debugf("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond), id)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.APIToken)) != 1 {
			respondError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.svc.Registry.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"actions": browser.Kinds()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.svc.Registry.List()})
}

type createSessionRequest struct {
	ID       string `json:"id"`
	Headless *bool  `json:"headless,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type sessionResponse struct {
	ID        string         `json:"id"`
	Status    browser.Status `json:"status"`
	URL       string         `json:"url"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := s.svc.Dispatcher.Ensure(r.Context(), req.ID, browser.SessionOptions{
		Headless: req.Headless,
		Width:    req.Width,
		Height:   req.Height,
	})
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	sum := sess.Summary()
	respondJSON(w, http.StatusOK, sessionResponse{
		ID:        sum.ID,
		Status:    sum.Status,
		URL:       sum.URL,
		CreatedAt: sum.CreatedAt,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.svc.Registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return
	}
	respondJSON(w, http.StatusOK, sess.Summary())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Registry.Close(id); err != nil {
		// The session is gone either way; report the process error
		s.logger.Warnf("close %s: %v", id, err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "closed": true})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "action")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		env := browser.Failed(browser.Kind(kind), id, fmt.Errorf("%w: %v", browser.ErrInvalidParams, err))
		respondJSON(w, http.StatusBadRequest, env)
		return
	}

	action, err := browser.ParseAction(kind, raw)
	if err != nil {
		respondJSON(w, statusFor(err), browser.Failed(browser.Kind(kind), id, err))
		return
	}

	env := s.svc.Dispatcher.Do(r.Context(), id, action)
	respondJSON(w, statusFor(env.Err()), env)
}

// statusFor maps a failure to an HTTP status. nil means success.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, browser.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, browser.ErrURLBlocked):
		return http.StatusForbidden
	case errors.Is(err, browser.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, browser.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, browser.ErrLaunchFailed):
		return http.StatusBadGateway
	case browser.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusUnprocessableEntity
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  err.Error(),
		Status: status,
	})
}
