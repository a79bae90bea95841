package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/promptmack/assistant/internal/jobs"
)

func (s *Server) getSkyvernTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeJSONError(w, "Failed to fetch task details", http.StatusInternalServerError)
		return
	}
	taskID := chi.URLParam(r, "taskId")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		log.Printf("skyvern task %s: %v", taskID, err)
		writeJSONError(w, "Failed to fetch task details", http.StatusInternalServerError)
		return
	}
	writeJSON(w, task)
}

func (s *Server) getSkyvernTaskSteps(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeJSONError(w, "Failed to fetch task steps", http.StatusInternalServerError)
		return
	}
	taskID := chi.URLParam(r, "taskId")
	steps, err := s.tasks.TaskSteps(r.Context(), taskID)
	if err != nil {
		log.Printf("skyvern task %s steps: %v", taskID, err)
		writeJSONError(w, "Failed to fetch task steps", http.StatusInternalServerError)
		return
	}
	writeJSON(w, steps)
}

func (s *Server) cancelSkyvernTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeJSONError(w, "Failed to cancel task", http.StatusInternalServerError)
		return
	}
	taskID := chi.URLParam(r, "taskId")
	result, err := s.tasks.CancelTask(r.Context(), taskID)
	if err != nil {
		log.Printf("skyvern cancel %s: %v", taskID, err)
		writeJSONError(w, "Failed to cancel task", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

// getJob re-checks a job that outlived its poll budget. Only the user whose
// chat started the job may see it.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSONError(w, "job tracking is not configured", http.StatusNotFound)
		return
	}
	jobID := chi.URLParam(r, "id")
	user := currentUser(r)
	job, err := s.jobs.Get(r.Context(), jobID)
	if err == nil && job.UserID != user.ID {
		err = jobs.ErrNotFound
	}
	if err == nil {
		job, err = s.jobs.Recheck(r.Context(), jobID)
	}
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeJSONError(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("job %s: %v", jobID, err)
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if job.Finished() && s.followUps != nil {
		if err := s.followUps.CancelFollowUp(r.Context(), jobID); err != nil {
			log.Printf("cancel follow-up for job %s: %v", jobID, err)
		}
	}
	writeJSON(w, job)
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, s.registry.Declarations())
}
