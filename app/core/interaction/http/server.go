// Package http exposes the orchestrator over a small JSON API. Each
// endpoint maps onto one orchestrator entry point or a thin read-only
// query; session context lives server-side, keyed by session id.
package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"aide/app/core/model"
	"aide/app/core/orchestrator"
	"aide/app/core/prioritize"
	"aide/app/core/scheduler"
	"aide/app/core/store"
	"aide/app/pkg/logger"
	"aide/app/pkg/types"
)

type Server struct {
	port            int
	orch            *orchestrator.Orchestrator
	store           *store.Store
	sched           *scheduler.Scheduler
	server          *http.Server
	shutdownTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*types.SessionContext
}

func NewServer(port int, orch *orchestrator.Orchestrator, st *store.Store, sched *scheduler.Scheduler) *Server {
	return &Server{
		port:            port,
		orch:            orch,
		store:           st,
		sched:           sched,
		shutdownTimeout: 5 * time.Second,
		sessions:        make(map[string]*types.SessionContext),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/process", s.handleProcess)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/update", s.handleTaskUpdate)
	mux.HandleFunc("/api/think_deep", s.handleThinkDeep)
	mux.HandleFunc("/api/profile", s.handleProfile)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown: %v", err)
		}
	}()

	logger.Info("http listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) session(sessionID string, userID string) *types.SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sctx, ok := s.sessions[sessionID]; ok {
		return sctx
	}
	sctx := &types.SessionContext{SessionID: sessionID, UserID: userID}
	s.sessions[sessionID] = sctx
	return sctx
}

type processRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TaskRef   int64  `json:"task_ref,omitempty"`
}

type processResponse struct {
	Response      string `json:"response"`
	ModelUsed     string `json:"model_used,omitempty"`
	TaskRef       int64  `json:"task_ref,omitempty"`
	Clarification bool   `json:"clarification,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Input == "" {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "http:" + req.UserID
	}

	sctx := s.session(req.SessionID, req.UserID)
	if req.TaskRef > 0 {
		// caller-supplied explicit reference for "this task" phrasings
		sctx.LastTaskRef = req.TaskRef
	}

	resp, err := s.orch.Handle(r.Context(), req.Input, sctx)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, processResponse{
		Response:      resp.Text,
		ModelUsed:     resp.ModelUsed,
		TaskRef:       resp.TaskRef,
		Clarification: resp.Clarification,
	})
}

type taskView struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Urgency     int    `json:"urgency"`
	Status      string `json:"status"`
	AlertAt     int64  `json:"alert_at,omitempty"`
	SourceEmail string `json:"source_email_id,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	filter := store.TaskFilter{Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("min_urgency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "min_urgency must be an integer")
			return
		}
		filter.MinUrgency = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = n
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range prioritize.Order(tasks) {
		views = append(views, taskView{
			ID:          t.ID,
			Description: t.Description,
			Urgency:     t.Urgency,
			Status:      t.Status,
			AlertAt:     t.AlertAt,
			SourceEmail: t.SourceEmailID,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": views})
}

type taskUpdateRequest struct {
	TaskID      int64  `json:"task_id"`
	Status      string `json:"status,omitempty"`
	Urgency     int    `json:"urgency,omitempty"`
	Note        string `json:"note,omitempty"`
	AlertAtUnix int64  `json:"alert_at_unix,omitempty"`
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var req taskUpdateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.TaskID <= 0 {
		s.writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	if req.Status == "" && req.Urgency == 0 && req.Note == "" && req.AlertAtUnix == 0 {
		s.writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	ctx := r.Context()
	if req.Status != "" {
		task, err := s.store.GetTask(ctx, req.TaskID)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		if err := s.store.UpdateTaskStatus(ctx, req.TaskID, req.Status, task.AlertAt); err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	if req.Urgency != 0 {
		if err := s.store.UpdateTaskUrgency(ctx, req.TaskID, req.Urgency); err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	if req.Note != "" {
		if err := s.store.AppendTaskNote(ctx, req.TaskID, req.Note); err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	if req.AlertAtUnix != 0 {
		if err := s.store.SetTaskAlert(ctx, req.TaskID, req.AlertAtUnix); err != nil {
			s.writeFailure(w, err)
			return
		}
	}

	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, taskView{
		ID:          task.ID,
		Description: task.Description,
		Urgency:     task.Urgency,
		Status:      task.Status,
		AlertAt:     task.AlertAt,
		SourceEmail: task.SourceEmailID,
	})
}

type thinkDeepRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

func (s *Server) handleThinkDeep(w http.ResponseWriter, r *http.Request) {
	var req thinkDeepRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = "http:" + req.UserID
	}

	resp, err := s.orch.ThinkDeep(r.Context(), req.Prompt, s.session(req.SessionID, req.UserID))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, processResponse{Response: resp.Text, ModelUsed: resp.ModelUsed})
}

type profileRequest struct {
	UserID string `json:"user_id"`
	Input  string `json:"input"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	resp, err := s.orch.ProfileInput(r.Context(), req.Input, req.UserID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, processResponse{Response: resp.Text, ModelUsed: resp.ModelUsed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if s.sched != nil {
		body["scheduler"] = s.sched.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST only")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeFailure maps error kinds onto status codes: validation 400, unknown
// entity 404, bad model credentials 502, everything else (the store being
// unreachable included) 500.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sql.ErrNoRows):
		s.writeError(w, http.StatusNotFound, "not found")
	case model.IsFatal(err):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("http request failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("http encode response: %v", err)
	}
}
