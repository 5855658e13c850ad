// ABOUTME: HTTP status handlers for health, live sessions and the archive
// ABOUTME: Read-only JSON views and a server-sent event stream of session lifecycle

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/HuMoN-Research-Lab/chatbot/internal/auth"
	"github.com/HuMoN-Research-Lab/chatbot/internal/session"
	"github.com/HuMoN-Research-Lab/chatbot/internal/store"
)

const (
	defaultArchiveLimit = 50
	streamHeartbeat     = 30 * time.Second
)

// LiveSessionsResponse is the JSON response for GET /api/sessions.
type LiveSessionsResponse struct {
	Platform string         `json:"platform"`
	Uptime   string         `json:"uptime"`
	Sessions []session.Info `json:"sessions"`
}

// ArchivedSession is one entry of GET /api/archive/sessions.
type ArchivedSession struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	Platform  string     `json:"platform"`
	ChannelID string     `json:"channel_id,omitempty"`
	Variant   string     `json:"variant"`
	Origin    string     `json:"origin"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// ArchivedTurn is one entry of GET /api/archive/sessions/{id}/turns.
type ArchivedTurn struct {
	Role      string    `json:"role"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the platform adapter knows its own identity.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.adapter.SelfID() == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("platform not connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.registry.Len())
}

func (g *Gateway) handleLiveSessions(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, LiveSessionsResponse{
		Platform: g.adapter.Name(),
		Uptime:   time.Since(g.startedAt).Truncate(time.Second).String(),
		Sessions: g.registry.Snapshot(),
	})
}

func (g *Gateway) handleArchivedSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := g.store.ListSessions(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list archived sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]ArchivedSession, 0, len(records))
	for _, rec := range records {
		out = append(out, ArchivedSession{
			ID:        rec.ID,
			ThreadID:  rec.ThreadID,
			Platform:  rec.Platform,
			ChannelID: rec.ChannelID,
			Variant:   rec.Variant,
			Origin:    rec.Origin,
			CreatedAt: rec.CreatedAt,
			ClosedAt:  rec.ClosedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (g *Gateway) handleArchivedTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g.logger.Debug("transcript requested", "session_id", id, "operator", auth.OperatorFromContext(r.Context()))
	if _, err := g.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		g.logger.Error("failed to load archived session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	turns, err := g.store.GetSessionTurns(r.Context(), id, 0)
	if err != nil {
		g.logger.Error("failed to load archived turns", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load turns")
		return
	}

	out := make([]ArchivedTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, ArchivedTurn{Role: t.Role, Author: t.Author, Text: t.Text, CreatedAt: t.CreatedAt})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": out})
}

// handleEvents streams lifecycle events as server-sent events. The optional
// thread query parameter limits the stream to one thread.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	thread := r.URL.Query().Get("thread")
	ch, subID := g.events.Subscribe(r.Context(), thread)
	defer g.events.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	hello, _ := json.Marshal(map[string]string{"thread_id": thread})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-g.streamsDone:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				g.logger.Error("failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to encode response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
