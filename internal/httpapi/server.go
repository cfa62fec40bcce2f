package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crabstack.local/projects/crab-voice/internal/calls"
	"crabstack.local/projects/crab-voice/internal/queue"
)

const maxEnqueueBodyBytes int64 = 1 << 20

// Controller is the orchestrator surface exposed over HTTP.
type Controller interface {
	Enqueue(ctx context.Context, chatID int64, item *queue.Item) (calls.EnqueueResult, error)
	Pause(ctx context.Context, chatID int64) (bool, error)
	Resume(ctx context.Context, chatID int64) (bool, error)
	Skip(ctx context.Context, chatID int64) error
	Stop(ctx context.Context, chatID int64)
	Status(ctx context.Context, chatID int64) (calls.Status, error)
	AveragePing() float64
}

type server struct {
	logger     *log.Logger
	controller Controller
}

// enqueueRequestBody has no file path field. Items are always resolved by the
// media fetcher inside its cache dir.
type enqueueRequestBody struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	RequestedBy     string `json:"requested_by"`
	SourceURL       string `json:"source_url"`
	Video           bool   `json:"video"`
	Thumbnail       string `json:"thumbnail"`
}

func NewServer(logger *log.Logger, addr string, controller Controller, metricsHandler http.Handler) *http.Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &server{
		logger:     logger,
		controller: controller,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/ping", h.handlePing)
	mux.HandleFunc("/v1/chats/{id}", h.handleChatStatus)
	mux.HandleFunc("/v1/chats/{id}/queue", h.handleEnqueue)
	mux.HandleFunc("/v1/chats/{id}/{action}", h.handleControl)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"average_ping_ms": s.controller.AveragePing()})
}

func (s *server) handleChatStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	chatID, err := parseChatID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, err := s.controller.Status(r.Context(), chatID)
	if err != nil {
		s.logger.Printf("status lookup failed chat_id=%d err=%v", chatID, err)
		http.Error(w, "failed to load chat status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	chatID, err := parseChatID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	defer r.Body.Close()
	var req enqueueRequestBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEnqueueBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if dec.More() {
		http.Error(w, "invalid json: trailing content", http.StatusBadRequest)
		return
	}
	item, err := toItem(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.controller.Enqueue(r.Context(), chatID, item)
	if err != nil {
		s.writeCallError(w, chatID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	chatID, err := parseChatID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch action := r.PathValue("action"); action {
	case "pause", "resume":
		op := s.controller.Pause
		if action == "resume" {
			op = s.controller.Resume
		}
		ok, err := op(ctx, chatID)
		if err != nil {
			s.writeCallError(w, chatID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
	case "skip":
		if err := s.controller.Skip(ctx, chatID); err != nil {
			s.writeCallError(w, chatID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "stop":
		s.controller.Stop(ctx, chatID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

func (s *server) writeCallError(w http.ResponseWriter, chatID int64, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, calls.ErrNotActive):
		status = http.StatusConflict
	case errors.Is(err, calls.ErrNoActiveVoiceChat):
		status = http.StatusConflict
	case errors.Is(err, calls.ErrNoAssistant):
		status = http.StatusServiceUnavailable
	case errors.Is(err, calls.ErrNoSourceFile):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, calls.ErrTransportFailure), errors.Is(err, calls.ErrUnknownFailure):
		status = http.StatusBadGateway
	default:
		s.logger.Printf("call operation failed chat_id=%d err=%v", chatID, err)
	}
	http.Error(w, err.Error(), status)
}

func toItem(req enqueueRequestBody) (*queue.Item, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, errors.New("id is required")
	}
	if req.DurationSeconds < 0 {
		return nil, errors.New("duration_seconds must be >= 0")
	}
	return &queue.Item{
		ID:          id,
		Title:       strings.TrimSpace(req.Title),
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
		RequestedBy: strings.TrimSpace(req.RequestedBy),
		SourceURL:   strings.TrimSpace(req.SourceURL),
		Video:       req.Video,
		Thumbnail:   strings.TrimSpace(req.Thumbnail),
	}, nil
}

func parseChatID(raw string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || chatID == 0 {
		return 0, fmt.Errorf("invalid chat id %q", raw)
	}
	return chatID, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
