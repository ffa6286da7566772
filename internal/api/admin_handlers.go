package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version()})
}

// handleGetWorker reports the supervisor's view of the transcription
// worker process.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	status := s.app.Worker().Status()
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"state":            status.State,
		"restart_attempts": status.RestartAttempts,
		"pending_requests": status.PendingRequests,
		"push":             s.app.PushHub().Stats(),
	})
}

// handlePatchWorker applies an admin action to the worker supervisor:
// "reset_attempts" clears the restart budget, "restart" forces a clean
// stop-and-respawn.
func (s *Server) handlePatchWorker(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	switch payload.Action {
	case "reset_attempts":
		s.app.Worker().ResetAttempts()
	case "restart":
		if err := s.app.Worker().Restart(r.Context()); err != nil {
			RespondWithError(w, http.StatusBadGateway, "Worker restart failed: "+err.Error())
			return
		}
	default:
		RespondWithError(w, http.StatusBadRequest, "Unknown action: "+payload.Action)
		return
	}

	s.handleGetWorker(w, r)
}

// handleStopWorker shuts the worker down. It will be respawned lazily on
// the next transcription request.
func (s *Server) handleStopWorker(w http.ResponseWriter, r *http.Request) {
	s.app.Worker().Stop()
	s.handleGetWorker(w, r)
}

func (s *Server) handleGetAdminJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.JobManager().GetStatus())
}

func (s *Server) handleRunAdminJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := s.app.JobManager().RunJob(payload.JobName, s.app); err != nil {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job": payload.JobName})
}
