package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tkowalczyk/wabridge/internal/gateway"
	"github.com/tkowalczyk/wabridge/internal/history"
	"github.com/tkowalczyk/wabridge/internal/hub"
	"github.com/tkowalczyk/wabridge/internal/sched"
)

// InboundHandler processes a message arriving from the transport.
type InboundHandler interface {
	HandleInbound(ctx context.Context, sender, text string) (string, error)
	RecordInbound(sender, text string) error
}

// TranscriptRenderer renders a contact's history window to PDF.
type TranscriptRenderer interface {
	Render(ctx context.Context, contactKey string, entries []history.Entry) ([]byte, error)
}

type Deps struct {
	Store     sched.API
	History   history.API
	Hub       *hub.Hub
	Status    gateway.StatusProvider
	Inbound   InboundHandler
	Renderer  TranscriptRenderer
	AutoReply bool
}

type Server struct {
	deps   Deps
	tracer trace.Tracer
}

func NewServer(deps Deps) http.Handler {
	s := &Server{
		deps:   deps,
		tracer: otel.Tracer("wabridge/httpapi"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/scheduled", s.handleScheduled)
	mux.HandleFunc("/v1/scheduled/", s.handleScheduledByID)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/history/export", s.handleHistoryExport)
	mux.HandleFunc("/v1/inbound", s.handleInbound)
	mux.HandleFunc("/v1/stream", s.handleStream)
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	return s.traced(mux)
}

func (s *Server) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, err error) {
	var se *sched.Error
	if errors.As(err, &se) {
		writeJSON(w, se.Status, map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":    se.Code,
				"message": se.Message,
			},
		})
		return
	}
	writeJSON(w, 500, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    sched.CodeInternal,
			"message": err.Error(),
		},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		blob, err := readBody(r)
		if err != nil {
			writeAPIError(w, sched.NewValidationError("invalid body: "+err.Error()))
			return
		}
		var req struct {
			Destination  string `json:"destination"`
			Body         string `json:"body"`
			ScheduleTime string `json:"schedule_time"`
		}
		if err := json.Unmarshal(blob, &req); err != nil {
			writeAPIError(w, sched.NewValidationError("invalid json: "+err.Error()))
			return
		}
		when, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduleTime))
		if err != nil {
			writeAPIError(w, sched.NewValidationError("schedule_time must be RFC 3339"))
			return
		}
		m, err := s.deps.Store.Create(sched.CreateInput{
			Destination:  req.Destination,
			Body:         req.Body,
			ScheduleTime: when,
		})
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, 201, map[string]any{"ok": true, "scheduled": m})
	case http.MethodGet:
		writeJSON(w, 200, map[string]any{"scheduled": s.deps.Store.List()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScheduledByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/scheduled/"), "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		m, err := s.deps.Store.Get(id)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"scheduled": m})
	case http.MethodDelete:
		if !s.deps.Store.Delete(id) {
			writeAPIError(w, &sched.Error{Code: sched.CodeNotFound, Message: "scheduled message not found", Status: 404})
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	contact := strings.TrimSpace(r.URL.Query().Get("contact"))
	if contact == "" {
		writeAPIError(w, sched.NewValidationError("contact query parameter is required"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, 200, map[string]any{
			"contact_key": history.NormalizeContactKey(contact),
			"entries":     s.deps.History.Read(contact),
		})
	case http.MethodDelete:
		if err := s.deps.History.Clear(contact); err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if s.deps.Renderer == nil {
		writeAPIError(w, &sched.Error{Code: sched.CodeUnavailable, Message: "transcript export not configured", Status: 503})
		return
	}
	contact := strings.TrimSpace(r.URL.Query().Get("contact"))
	if contact == "" {
		writeAPIError(w, sched.NewValidationError("contact query parameter is required"))
		return
	}
	key := history.NormalizeContactKey(contact)
	pdf, err := s.deps.Renderer.Render(r.Context(), key, s.deps.History.Read(contact))
	if err != nil {
		writeAPIError(w, sched.NewInternalError("render transcript: "+err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transcript-"+key+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeAPIError(w, sched.NewValidationError("invalid body: "+err.Error()))
		return
	}
	var req struct {
		Sender string `json:"sender"`
		Body   string `json:"body"`
	}
	if err := json.Unmarshal(blob, &req); err != nil {
		writeAPIError(w, sched.NewValidationError("invalid json: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Sender) == "" || strings.TrimSpace(req.Body) == "" {
		writeAPIError(w, sched.NewValidationError("sender and body are required"))
		return
	}

	if !s.deps.AutoReply || s.deps.Inbound == nil {
		if s.deps.Inbound != nil {
			if err := s.deps.Inbound.RecordInbound(req.Sender, req.Body); err != nil {
				writeAPIError(w, sched.NewValidationError(err.Error()))
				return
			}
		}
		writeJSON(w, 200, map[string]any{"ok": true, "replied": false})
		return
	}

	reply, err := s.deps.Inbound.HandleInbound(r.Context(), req.Sender, req.Body)
	if err != nil {
		writeAPIError(w, sched.NewInternalError(err.Error()))
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "replied": true, "reply": reply})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, sched.NewInternalError("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	v := s.deps.Hub.Register()
	defer s.deps.Hub.Unregister(v)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-v.Events():
			if !open {
				return
			}
			if evt.Type == hub.EventPing {
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
				v.MarkAlive()
				continue
			}
			blob, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, blob); err != nil {
				return
			}
			flusher.Flush()
			v.MarkAlive()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":      true,
		"status":  "healthy",
		"channel": s.deps.Status.ConnectionState(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok": true,
		"system": map[string]any{
			"channel":   s.deps.Status.ConnectionState(),
			"scheduled": s.deps.Store.Counts(),
			"viewers":   s.deps.Hub.ViewerCount(),
		},
	})
}
