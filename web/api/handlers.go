package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/observer"
	"github.com/janani-sekar/AEAExtensions/internal/store"
)

// RunResponse is the API response for a run
type RunResponse struct {
	ID           string         `json:"id"`
	AnalysisName string         `json:"analysis_name"`
	DataPath     string         `json:"data_path,omitempty"`
	Model        string         `json:"model,omitempty"`
	Status       string         `json:"status"`
	StartedAt    string         `json:"started_at"`
	StartedAgo   string         `json:"started_ago"`
	FinishedAt   *string        `json:"finished_at,omitempty"`
	Tasks        []TaskResponse `json:"tasks,omitempty"`
}

// TaskResponse is the API response for a task without its history
type TaskResponse struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	Title       string `json:"title,omitempty"`
	Proposal    string `json:"proposal"`
	Feedback    string `json:"feedback,omitempty"`
	Verdict     string `json:"verdict,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Iteration   int    `json:"iteration"`
	FixAttempts int    `json:"fix_attempts"`
	Duration    string `json:"duration,omitempty"`
}

// TaskDetailResponse adds the code-unit history
type TaskDetailResponse struct {
	TaskResponse
	FixAttemptsByIteration map[int]int    `json:"fix_attempts_by_iteration"`
	History                []UnitResponse `json:"history"`
}

// UnitResponse is one code unit with its result
type UnitResponse struct {
	Seq         int               `json:"seq"`
	Provenance  string            `json:"provenance"`
	Iteration   int               `json:"iteration"`
	FixAttempt  int               `json:"fix_attempt"`
	Regenerated bool              `json:"regenerated,omitempty"`
	Guidance    string            `json:"guidance,omitempty"`
	Source      string            `json:"source"`
	Outcome     string            `json:"outcome,omitempty"`
	Output      string            `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	Artifacts   []domain.Artifact `json:"artifacts,omitempty"`
	Took        string            `json:"took,omitempty"`
}

// StatusResponse is the API response for live status
type StatusResponse struct {
	Metrics observer.Metrics      `json:"metrics"`
	Running []observer.TaskStatus `json:"running"`
	Stuck   []string              `json:"stuck,omitempty"`
}

func runToResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		AnalysisName: r.AnalysisName,
		DataPath:     r.DataPath,
		Model:        r.Model,
		Status:       string(r.Status),
		StartedAt:    r.StartedAt.Format(time.RFC3339),
		StartedAgo:   humanize.Time(r.StartedAt),
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	return resp
}

func taskToResponse(t *domain.AnalysisTask) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		RunID:       t.RunID,
		Title:       t.Proposal.Title,
		Proposal:    t.Proposal.Text,
		Feedback:    t.Proposal.Feedback,
		Verdict:     string(t.Verdict),
		Reason:      t.Reason,
		Iteration:   t.Iteration,
		FixAttempts: t.FixAttempts,
	}
	if t.StartedAt != nil && t.FinishedAt != nil {
		resp.Duration = t.FinishedAt.Sub(*t.StartedAt).Round(time.Second).String()
	}
	return resp
}

func taskToDetail(t *domain.AnalysisTask) TaskDetailResponse {
	resp := TaskDetailResponse{
		TaskResponse:           taskToResponse(t),
		FixAttemptsByIteration: t.FixAttemptsByIteration(),
		History:                make([]UnitResponse, 0, len(t.History)),
	}
	for _, u := range t.History {
		ur := UnitResponse{
			Seq:         u.Seq,
			Provenance:  string(u.Provenance),
			Iteration:   u.Iteration,
			FixAttempt:  u.FixAttempt,
			Regenerated: u.Regenerated,
			Guidance:    u.Guidance,
			Source:      u.Source,
		}
		if u.Result != nil {
			ur.Outcome = string(u.Result.Kind)
			ur.Output = u.Result.Output
			ur.Error = u.Result.ErrorSignal()
			ur.Artifacts = u.Result.Artifacts
			ur.Took = u.Result.Duration.Round(time.Millisecond).String()
		}
		resp.History = append(resp.History, ur)
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.observer == nil {
			writeJSON(w, StatusResponse{Running: []observer.TaskStatus{}})
			return
		}
		writeJSON(w, StatusResponse{
			Metrics: s.observer.GetMetrics(),
			Running: s.observer.Running(),
			Stuck:   s.observer.Stuck(),
		})
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		runs, err := s.store.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			resp = append(resp, runToResponse(run))
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("run")
		run, err := s.store.GetRun(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "run not found")
			return
		}
		tasks, err := s.store.ListTasks(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := runToResponse(run)
		for _, t := range tasks {
			resp.Tasks = append(resp.Tasks, taskToResponse(t))
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := pathTaskID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		task, err := s.store.GetTask(r.Context(), r.PathValue("run"), taskID)
		if err != nil {
			writeStoreError(w, err, "task not found")
			return
		}
		writeJSON(w, taskToDetail(task))
	}
}

func (s *Server) cancelTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cancel == nil {
			writeError(w, http.StatusServiceUnavailable, "no run in progress")
			return
		}
		taskID, err := pathTaskID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !s.cancel.Cancel(taskID) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("task %s is not running", taskID))
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "cancelling"})
	}
}

func pathTaskID(r *http.Request) (string, error) {
	raw := r.PathValue("analysis") + "/" + r.PathValue("ordinal")
	id, err := domain.ParseTaskID(raw)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
