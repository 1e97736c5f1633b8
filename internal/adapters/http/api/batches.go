package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/skumatch/internal/adapters/export"
	"github.com/okian/skumatch/internal/adapters/mq/scheduler"
	"github.com/okian/skumatch/internal/domain/model"
)

type batchRequest struct {
	Items   []model.BatchItem  `json:"items"`
	Options model.BatchOptions `json:"options"`
}

// batchSummary is a job without its items and results.
type batchSummary struct {
	ID         string             `json:"id"`
	Status     model.JobStatus    `json:"status"`
	Options    model.BatchOptions `json:"options"`
	Progress   model.Progress     `json:"progress"`
	Failures   int                `json:"failures"`
	CreatedAt  time.Time          `json:"createdAt"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
}

func summarize(j model.BatchJob) batchSummary {
	return batchSummary{
		ID:         j.ID,
		Status:     j.Status,
		Options:    j.Options,
		Progress:   j.Progress,
		Failures:   len(j.Errors),
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

// handleSubmitBatch handles POST /batches requests.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_batch"
	var req batchRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	job, err := s.deps.SubmitBatch(r.Context(), req.Items, req.Options)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	w.Header().Set("Location", "/batches/"+job.ID)
	writeJSON(w, http.StatusAccepted, summarize(job))
}

// handleListBatches handles GET /batches requests.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Batches(r.Context())
	out := make([]batchSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, summarize(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetBatch handles GET /batches/{id} requests.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Batch(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "api.get_batch", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDeleteBatch cancels an active job (200 with the job) or removes a
// finished one (204).
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_batch"
	id := r.PathValue("id")
	job, err := s.deps.CancelBatch(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summarize(job))
		return
	case !errors.Is(err, scheduler.ErrJobFinished):
		s.fail(w, r, op, err)
		return
	}
	if err := s.deps.DeleteBatch(r.Context(), id); err != nil {
		s.fail(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExport handles GET /batches/{id}/export requests.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	const op = "api.export"
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	job, err := s.deps.Batch(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, job); err != nil {
		s.fail(w, r, op, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.%s"`, job.ID, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
