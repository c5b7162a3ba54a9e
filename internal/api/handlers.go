package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizsolver/internal/domain"
)

func (s *Server) handleSolveRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		Secret string `json:"secret"`
		URL    string `json:"url"`
		Async  bool   `json:"async"`
		Force  bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !strings.Contains(req.Email, "@") {
		s.respondWithError(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if u, err := url.ParseRequestURI(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		s.respondWithError(w, http.StatusBadRequest, "URL must start with http:// or https://")
		return
	}

	// Only the configured student may use this solver.
	if req.Secret != s.config.StudentSecret || !strings.EqualFold(req.Email, s.config.StudentEmail) {
		s.logger.Warn("rejected solve request with bad credentials", zap.String("email", req.Email))
		s.respondWithError(w, http.StatusForbidden, "Invalid credentials")
		return
	}

	solveReq := domain.SolveRequest{
		Email:  strings.ToLower(strings.TrimSpace(req.Email)),
		Secret: req.Secret,
		URL:    strings.TrimSpace(req.URL),
		Async:  req.Async,
		Force:  req.Force,
	}

	if req.Async {
		id := s.solver.Enqueue(solveReq)
		if id == "" {
			s.respondWithError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		s.respondWithJSON(w, http.StatusAccepted, map[string]string{
			"status":     "received",
			"attempt_id": id,
		})
		return
	}

	result := s.solver.Run(r.Context(), solveReq)
	s.respondWithJSON(w, http.StatusOK, result)
}

func (s *Server) handleAttemptStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.respondWithError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	if s.pgStore == nil {
		s.respondWithError(w, http.StatusNotImplemented, "Attempt archive is not configured")
		return
	}

	result, err := s.pgStore.GetAttempt(r.Context(), id)
	if err != nil {
		if err.Error() == "not_found" {
			s.respondWithError(w, http.StatusNotFound, "Attempt not found")
			return
		}
		s.logger.Error("failed to get attempt", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve attempt")
		return
	}
	s.respondWithJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	s.respondWithJSON(w, http.StatusOK, s.logBuffer.Recent(limit))
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.logBuffer.Clear()
	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Logs cleared"})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]any{
		"model":           s.config.LLMModel,
		"timeout_seconds": s.config.AttemptTimeout,
		"email_set":       s.config.StudentEmail != "",
		"token_set":       s.config.AIPipeToken != "",
	}

	healthy := true
	if s.pgStore != nil {
		if err := s.pgStore.Ping(ctx); err != nil {
			healthStatus["postgres"] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed for postgres", zap.Error(err))
		} else {
			healthStatus["postgres"] = "healthy"
		}
	}
	if s.redisStore != nil {
		if err := s.redisStore.Ping(ctx); err != nil {
			healthStatus["redis"] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed for redis", zap.Error(err))
		} else {
			healthStatus["redis"] = "healthy"
		}
	}

	if !healthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
