// ABOUTME: SSE transport: long-lived stream delivery plus out-of-band message submission
// ABOUTME: GET /mcp/sse opens a session; POST /mcp/messages?sessionId= dispatches into it

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// handleSSE authenticates once, creates a session, and streams responses.
// The first event tells the client where to POST subsequent requests; every
// later frame is either a message event or a heartbeat comment. The session
// dies with the connection, or at its absolute lifetime, whichever is first.
func (t *Transport) handleSSE(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	identity, errResp := t.authenticate(r)
	if errResp != nil {
		writeResponse(w, http.StatusUnauthorized, errResp)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	instance := NewServerInstance(*identity, t.knowledge, t.logger)
	sess := t.registry.Create(*identity, instance)
	defer t.registry.Destroy(sess.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp/messages?sessionId=%s\n\n", sess.ID)
	flusher.Flush()

	heartbeat := time.NewTicker(t.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			t.logger.Info("sse client disconnected", "session_id", sess.ID)
			return
		case <-sess.Done():
			// Lifetime reached or registry shutdown.
			return
		case <-sess.Notify():
			if err := t.flushPending(w, flusher, sess); err != nil {
				t.logger.Warn("sse write failed", "session_id", sess.ID, "error", err)
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// flushPending drains the session queue onto the stream in FIFO order.
func (t *Transport) flushPending(w http.ResponseWriter, flusher http.Flusher, sess *Session) error {
	for _, msg := range sess.Drain() {
		data, err := json.Marshal(msg)
		if err != nil {
			t.logger.Error("encoding sse message", "session_id", sess.ID, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
			return err
		}
	}
	flusher.Flush()
	return nil
}

// handleMessages accepts a JSON-RPC request for an existing session. The
// result is enqueued for SSE delivery, not returned here: a successful
// dispatch always answers 202 with an empty body. No Authorization header is
// required; trust was established when the session was created.
func (t *Transport) handleMessages(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeResponse(w, http.StatusBadRequest, NewError(nil, JSONRPCInvalidRequest, "sessionId query parameter is required"))
		return
	}

	sess, ok := t.registry.Get(sessionID)
	if !ok {
		// Live ids go to the log only; the response must not leak them.
		t.logger.Warn("message for unknown session",
			"session_id", sessionID,
			"live_sessions", t.registry.LiveIDs(),
		)
		writeResponse(w, http.StatusNotFound, NewError(nil, JSONRPCServerError, "session not found"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		writeResponse(w, http.StatusInternalServerError, NewError(nil, JSONRPCInternalError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		writeResponse(w, http.StatusBadRequest, NewError(nil, JSONRPCInvalidRequest, "request body too large"))
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// No id is known yet, so this fails synchronously.
		writeResponse(w, http.StatusInternalServerError, NewError(nil, JSONRPCParseError, "invalid JSON"))
		return
	}

	// Dispatch in the request's own goroutine; responses reach the client
	// via the session queue. Detach from the POST's context so an early 202
	// return cannot cancel the tool call mid-flight.
	resp := sess.Server.Handle(context.WithoutCancel(r.Context()), &req)
	if resp != nil {
		if !t.registry.Enqueue(sess.ID, resp) {
			t.logger.Warn("session vanished before enqueue", "session_id", sess.ID)
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
