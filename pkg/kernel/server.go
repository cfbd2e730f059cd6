package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/manthysbr/templaterelay/internal/adapters/blob"
	"github.com/manthysbr/templaterelay/internal/core/services"
	"github.com/rs/cors"
)

// Options tunes optional server behavior.
type Options struct {
	// SlackSigningSecret enables X-Slack-Signature verification.
	SlackSigningSecret string
	// ValidateRequests checks requests against the embedded API document.
	ValidateRequests bool
}

type Server struct {
	logger      *slog.Logger
	coordinator *services.Coordinator
	eventBus    *services.EventBus
	images      *blob.Store
	commands    *services.CommandRouter // optional, nil disables chat commands
	opts        Options
	validator   *requestValidator

	// chat commands run after the events request is acknowledged
	inflight sync.WaitGroup
}

func NewServer(
	logger *slog.Logger,
	coordinator *services.Coordinator,
	eventBus *services.EventBus,
	images *blob.Store,
	commands *services.CommandRouter,
	opts Options,
) (*Server, error) {
	s := &Server{
		logger:      logger,
		coordinator: coordinator,
		eventBus:    eventBus,
		images:      images,
		commands:    commands,
		opts:        opts,
	}
	if opts.ValidateRequests {
		doc, err := LoadSpec(context.Background())
		if err != nil {
			return nil, err
		}
		if s.validator, err = newRequestValidator(logger, doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("PATCH /v1/jobs/{id}", s.handleUpdateJobStatus)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobSSE)
	mux.HandleFunc("GET /v1/events", s.handleBroadcastSSE)
	mux.HandleFunc("POST /v1/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /v1/availability", s.handleAvailability)
	mux.HandleFunc("POST /v1/reset", s.handleReset)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/images", s.handleUploadImage)
	mux.HandleFunc("GET /v1/images/{name}", s.handleDownloadImage)
	mux.HandleFunc("POST /v1/slack/events", s.handleSlackEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.validator == nil {
		return mux
	}
	return s.validator.middleware(mux)
}

// Wait blocks until chat commands accepted by the server have finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// WithCORS allows every origin, including the "null" origin design tool
// plugins send from sandboxed iframes.
func WithCORS(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(h)
}

// errorBody is returned with every non-2xx JSON response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OwnerID string `json:"owner_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// large enough for a base64 encoded image at the default size limit
const maxBodyBytes = 12 << 20
