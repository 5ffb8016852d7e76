// ABOUTME: HTTP transports for the MCP tool server
// ABOUTME: Stateless POST /mcp with per-request auth, plus discovery and CORS preflight

package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrYang2016/learn-assistant/internal/auth"
	"github.com/MrYang2016/learn-assistant/internal/knowledge"
)

// defaultHeartbeatInterval is how often the SSE stream writes a keepalive
// comment so intermediaries do not drop idle connections.
const defaultHeartbeatInterval = 30 * time.Second

// KeyVerifier authenticates a raw API key. Satisfied by
// *auth.APIKeyAuthenticator. A (nil, nil) return means the key is invalid;
// a non-nil error means the lookup itself failed.
type KeyVerifier interface {
	Verify(ctx context.Context, rawKey string) (*auth.Identity, error)
}

// TransportConfig configures the MCP HTTP transports.
type TransportConfig struct {
	Verifier  KeyVerifier
	Knowledge *knowledge.Service
	Registry  *SessionRegistry
	Logger    *slog.Logger

	// HeartbeatInterval overrides the SSE keepalive cadence; zero means
	// the 30s default. Shortened in tests.
	HeartbeatInterval time.Duration
}

// Transport serves the MCP endpoints: stateless POST /mcp, GET /mcp/sse,
// and POST /mcp/messages.
type Transport struct {
	verifier  KeyVerifier
	knowledge *knowledge.Service
	registry  *SessionRegistry
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewTransport creates the MCP transport layer.
func NewTransport(cfg TransportConfig) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &Transport{
		verifier:  cfg.Verifier,
		knowledge: cfg.Knowledge,
		registry:  cfg.Registry,
		logger:    logger.With("component", "mcp.transport"),
		heartbeat: heartbeat,
	}
}

// RegisterRoutes mounts the MCP endpoints on the given router.
func (t *Transport) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/mcp", t.handleMCP)
	r.Get("/mcp/sse", t.handleSSE)
	r.HandleFunc("/mcp/messages", t.handleMessages)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (t *Transport) handleMCP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		t.handleDiscovery(w)
	case http.MethodPost:
		t.handlePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDiscovery answers GET /mcp with a static description of the server.
func (t *Transport) handleDiscovery(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           ServerName,
		"version":        ServerVersion,
		"protocol":       "mcp",
		"endpoint":       "/mcp",
		"authentication": "Bearer API key",
	})
}

// handlePost is the stateless transport: every request authenticates
// independently and gets a fresh server instance, so no state leaks between
// callers or between requests from the same caller.
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	identity, errResp := t.authenticate(r)
	if errResp != nil {
		status := http.StatusUnauthorized
		if errResp.Error != nil && errResp.Error.Code == JSONRPCInternalError {
			status = http.StatusInternalServerError
		}
		writeResponse(w, status, errResp)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		writeResponse(w, http.StatusBadRequest, NewError(nil, JSONRPCParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		writeResponse(w, http.StatusBadRequest, NewError(nil, JSONRPCInvalidRequest, "request body too large"))
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, http.StatusBadRequest, NewError(nil, JSONRPCParseError, "invalid JSON"))
		return
	}

	instance := NewServerInstance(*identity, t.knowledge, t.logger)
	resp := instance.Handle(r.Context(), &req)
	if resp == nil {
		// Notification: effect performed, nothing to return.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	status := http.StatusOK
	if resp.Error != nil {
		status = HTTPStatusForCode(resp.Error.Code)
	}
	writeResponse(w, status, resp)
}

// authenticate resolves the bearer API key on r. On failure it returns the
// JSON-RPC error envelope the transport should send with HTTP 401. The id
// is null because no request has been parsed yet.
func (t *Transport) authenticate(r *http.Request) (*auth.Identity, *JSONRPCResponse) {
	rawKey, errMsg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, NewError(nil, JSONRPCServerError, errMsg)
	}

	identity, err := t.verifier.Verify(r.Context(), rawKey)
	if err != nil {
		t.logger.Error("api key verification failed", "error", err)
		return nil, NewError(nil, JSONRPCInternalError, "authentication lookup failed")
	}
	if identity == nil {
		return nil, NewError(nil, JSONRPCServerError, "invalid or expired API key")
	}
	return identity, nil
}

func writeResponse(w http.ResponseWriter, status int, resp *JSONRPCResponse) {
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
