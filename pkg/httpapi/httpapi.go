// Package httpapi is the HTTP front end: it accepts JSON-RPC 2.0 over
// HTTP and exposes health/status/MCP endpoints, funneling every /mcp
// request through the MCP dispatcher and, beneath it, the single-slot
// serial transactor.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexspaceteam/hackpack-robots/pkg/mcp"
	"github.com/alexspaceteam/hackpack-robots/pkg/supervisor"
)

// DefaultRequestTimeout is the deadline applied to a /mcp request's
// serial transaction when the client sets none (spec.md §5).
const DefaultRequestTimeout = 30 * time.Second

// Supervisor is the subset of pkg/supervisor's Supervisor the status
// endpoint depends on.
type Supervisor interface {
	Snapshot() supervisor.Snapshot
}

type statusResponse struct {
	State    string `json:"state"`
	Message  string `json:"message"`
	DeviceID string `json:"device_id"`
	Ready    bool   `json:"ready"`
}

// NewRouter builds the chi router serving /mcp, /status, and /health with
// permissive CORS on every response, per spec.md §4.H.
func NewRouter(dispatcher *mcp.Server, sup Supervisor, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Post("/mcp", handleMCP(dispatcher, logger))
	r.Get("/status", handleStatus(sup))
	r.Get("/health", handleHealth())

	return r
}

func handleMCP(dispatcher *mcp.Server, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := uuid.NewString()
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeParseError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
		defer cancel()

		reqLogger := logger.With().Str("correlation_id", correlationID).Str("remote_addr", r.RemoteAddr).Logger()
		reqLogger.Info().Msg("mcp request received")

		resp := dispatcher.HandleRequest(ctx, correlationID, body)

		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}
}

func writeParseError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	body, _ := json.Marshal(mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &mcp.JSONRPCError{Code: mcp.ErrCodeParseError, Message: "failed to read request body: " + err.Error()},
	})
	w.Write(body)
}

func handleStatus(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := sup.Snapshot()
		resp := statusResponse{
			State:   snap.State.String(),
			Message: snap.Message,
			Ready:   snap.State == supervisor.Ready,
		}
		if snap.State == supervisor.Ready {
			resp.DeviceID = snap.DeviceID
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
