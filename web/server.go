// Package web serves the optional admin HTTP API: status, runtime tuning,
// prompt edits, stored logs and a server-sent event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tomasmach/banter/agent"
	"github.com/tomasmach/banter/logstore"
	"github.com/tomasmach/banter/tuning"
)

const statusInterval = 5 * time.Second

// Deps are the stores the API reads and mutates. Logs may be nil when the
// log store is disabled.
type Deps struct {
	Tuning *tuning.Store
	Router *agent.Router
	Logs   *logstore.Store
}

type Server struct {
	deps       Deps
	sseSubs    []chan string
	ssesMu     sync.Mutex
	httpServer *http.Server
}

func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/tune", s.handleTune)
	mux.HandleFunc("POST /api/control", s.handleControl)
	mux.HandleFunc("PUT /api/prompts/{bot}/{field}", s.handlePutPrompt)
	mux.HandleFunc("POST /api/prompts/{bot}/preset", s.handlePreset)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/events", s.handleSSE)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	deps.Tuning.OnChange(func(settings tuning.Settings) {
		s.broadcastJSON("settings", viewSettings(settings))
	})
	deps.Tuning.OnPromptChange(func(bot string, p tuning.Prompts) {
		s.broadcastJSON("prompts", promptsEvent{Bot: bot, Prompts: p})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartStatusPoller broadcasts bot status to event subscribers until ctx ends.
func (s *Server) StartStatusPoller(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.broadcastJSON("status", s.deps.Router.Status())
			}
		}
	}()
}

func (s *Server) subscribe() chan string {
	ch := make(chan string, 16)
	s.ssesMu.Lock()
	s.sseSubs = append(s.sseSubs, ch)
	s.ssesMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan string) {
	s.ssesMu.Lock()
	defer s.ssesMu.Unlock()
	for i, sub := range s.sseSubs {
		if sub == ch {
			s.sseSubs = append(s.sseSubs[:i], s.sseSubs[i+1:]...)
			return
		}
	}
}

func (s *Server) broadcastJSON(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal event", "event", event, "error", err)
		return
	}
	s.broadcast(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

func (s *Server) broadcast(msg string) {
	s.ssesMu.Lock()
	defer s.ssesMu.Unlock()
	for _, ch := range s.sseSubs {
		select {
		case ch <- msg:
		default:
			// drop slow subscriber
		}
	}
}

// settingsView is the wire form of tuning.Settings, in the units the slash
// commands use.
type settingsView struct {
	ReplyChance     float64 `json:"reply_chance"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
	TypingSpeed     float64 `json:"typing_speed"`
	IntervalMinutes float64 `json:"interval_minutes"`
}

func viewSettings(s tuning.Settings) settingsView {
	return settingsView{
		ReplyChance:     s.ReplyChance,
		CooldownSeconds: s.Cooldown.Seconds(),
		TypingSpeed:     s.TypingSpeed,
		IntervalMinutes: s.Interval.Minutes(),
	}
}

type promptsEvent struct {
	Bot     string         `json:"bot"`
	Prompts tuning.Prompts `json:"prompts"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps tuning store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var vErr *tuning.ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Reason, http.StatusBadRequest)
	case errors.Is(err, tuning.ErrUnknownBot):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("tuning update", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	prompts := make(map[string]tuning.Prompts)
	for _, bot := range s.deps.Tuning.Bots() {
		prompts[bot], _ = s.deps.Tuning.Prompts(bot)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings": viewSettings(s.deps.Tuning.Settings()),
		"bots":     s.deps.Router.Status(),
		"prompts":  prompts,
	})
}

func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Setting string   `json:"setting"`
		Value   *float64 `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		http.Error(w, "value is required", http.StatusBadRequest)
		return
	}
	settings, err := s.deps.Tuning.Tune(req.Setting, *req.Value)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("setting tuned via api", "setting", req.Setting, "value", *req.Value)
	writeJSON(w, http.StatusOK, viewSettings(settings))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	settings, err := s.deps.Tuning.Control(req.Action)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("control action via api", "action", req.Action)
	writeJSON(w, http.StatusOK, viewSettings(settings))
}

func (s *Server) handlePutPrompt(w http.ResponseWriter, r *http.Request) {
	bot, field := r.PathValue("bot"), r.PathValue("field")
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Tuning.SetPrompt(bot, field, req.Content); err != nil {
		writeStoreError(w, err)
		return
	}
	p, _ := s.deps.Tuning.Prompts(bot)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	bot := r.PathValue("bot")
	var req struct {
		Preset string `json:"preset"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.deps.Tuning.ApplyPreset(bot, req.Preset); err != nil {
		writeStoreError(w, err)
		return
	}
	p, _ := s.deps.Tuning.Prompts(bot)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		http.Error(w, "log store disabled", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	rows, total, err := s.deps.Logs.List(r.Context(), logstore.Query{
		Bot:    q.Get("bot"),
		Level:  q.Get("level"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		slog.Error("list logs", "error", err)
		http.Error(w, "failed to list logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": rows, "total": total})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprint(w, msg)
			flusher.Flush()
		}
	}
}
