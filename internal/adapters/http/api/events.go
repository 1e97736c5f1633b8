package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/skumatch/internal/adapters/mq/scheduler"
	"github.com/okian/skumatch/pkg/logger"
)

const (
	defaultHeartbeat = 15 * time.Second
	eventSnapshot    = "snapshot"
)

// handleBatchEvents streams the progress of one job as server-sent events. The
// first event is a snapshot of the job; the stream ends after a terminal event.
// Slow subscribers can miss events; each heartbeat re-reads the job and ends the
// stream with a final snapshot once it is terminal.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.batch_events"
	id := r.PathValue("id")

	// Subscribe before the snapshot so nothing between the two is lost.
	events, unsubscribe := s.deps.SubscribeBatches()
	defer unsubscribe()

	job, err := s.deps.Batch(r.Context(), id)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server's WriteTimeout would otherwise cut long streams.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, eventSnapshot, summarize(job)); err != nil || job.Status.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			current, err := s.deps.Batch(r.Context(), id)
			if err != nil {
				// removed while streaming
				return
			}
			if current.Status.IsTerminal() {
				_ = writeEvent(w, rc, eventSnapshot, summarize(current))
				return
			}
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.JobID != id {
				continue
			}
			if err := writeEvent(w, rc, string(e.Type), e); err != nil {
				s.log.Debug(r.Context(), "event stream closed", logger.String("job_id", id), logger.Error(err))
				return
			}
			if terminal(e.Type) {
				return
			}
		}
	}
}

func terminal(t scheduler.EventType) bool {
	switch t {
	case scheduler.EventJobCompleted, scheduler.EventJobFailed, scheduler.EventJobCancelled:
		return true
	default:
		return false
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStreaming, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("%w: %w", ErrStreaming, err)
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrStreaming, err)
	}
	return nil
}
