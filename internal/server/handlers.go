package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"redeploy/internal/deployerr"
	"redeploy/internal/history"
	"redeploy/internal/release"
)

const (
	MaxPayloadBytes        = 1_000_000 // 1 MB
	RecentDeploymentsLimit = 10        // default number of deployments on /status
	MaxDeploymentsLimit    = 500
)

// notification is the build server's "build finished" payload:
//
//	{"name": "VectorWebDevelop", "build": {"number": 8}}
type notification struct {
	Name  string `json:"name"`
	Build struct {
		Number int `json:"number"`
	} `json:"build"`
}

// HandleNotification deploys the build named in the payload and answers
// once the deployment has reached a terminal state.
func (s *Server) HandleNotification(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read payload"})
		return
	}

	if s.Secret != "" && !VerifySignature(body, r.Header.Get(SignatureHeader), s.Secret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	var payload notification
	if len(body) == 0 {
		s.respondError(w, deployerr.New(deployerr.InvalidRequest, "No JSON provided!"))
		return
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		s.Logger.Warn("Failed to parse notification", "error", err)
		s.respondError(w, deployerr.Wrap(deployerr.InvalidRequest, err, "Invalid JSON payload"))
		return
	}

	s.Logger.Info("Incoming notification", "job", payload.Name, "build", payload.Build.Number)

	// The response is written only after the deployment finishes
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	outcome := s.Deployer.HandleBuildNotification(r.Context(), payload.Name, payload.Build.Number)
	if !outcome.OK() {
		s.respondError(w, outcome.Err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{})
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"busy":   s.Deployer.Busy(),
	}
	if current, err := release.Current(s.Symlink); err == nil {
		response["current_release"] = current
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus returns the latest deployment per job and the most recent
// deployments. With ?job= it reports that job only. Query parameters: job
// (optional), limit.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	limit := RecentDeploymentsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxDeploymentsLimit {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and " + strconv.Itoa(MaxDeploymentsLimit)})
			return
		}
		limit = n
	}
	job := r.URL.Query().Get("job")
	if job != "" {
		s.handleJobStatus(w, r, job, limit)
		return
	}

	latest, err := s.History.GetAllJobsStatus(r.Context())
	if err != nil {
		s.Logger.Error("Failed to get jobs status", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	recent, err := s.History.GetDeploymentHistory(r.Context(), job, limit)
	if err != nil {
		s.Logger.Error("Failed to get deployment history", "error", err, "job", job)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":               latest,
		"recent_deployments": recent,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, job string, limit int) {
	latest, err := s.History.GetLatestDeployment(r.Context(), job)
	if err != nil {
		s.Logger.Error("Failed to get latest deployment", "error", err, "job", job)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}
	if latest == nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "No deployments for job " + job})
		return
	}

	recent, err := s.History.GetDeploymentHistory(r.Context(), job, limit)
	if err != nil {
		s.Logger.Error("Failed to get deployment history", "error", err, "job", job)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, history.JobStatus{
		Job:              job,
		LatestDeployment: latest,
		RecentHistory:    recent,
	})
}

// respondError maps a deployment error to its status code
func (s *Server) respondError(w http.ResponseWriter, err error) {
	kind := deployerr.KindOf(err)
	s.respondJSON(w, kind.HTTPStatus(), map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
