package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/manthysbr/templaterelay/internal/core/services"
)

// handleJobSSE streams status events of one job. The stream ends after the
// job reaches a terminal status or the client disconnects.
// GET /v1/jobs/{id}/events
func (s *Server) handleJobSSE(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// subscribe before the snapshot read so no transition is missed
	ch, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	job, err := s.coordinator.GetJob(r.Context(), domain.JobID(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", id)
	flusher.Flush()

	if job.Status.Terminal() {
		writeEvent(w, services.Event{JobID: id, Type: services.EventTypeStatus, Status: job.Status, Message: job.StatusMessage})
		flusher.Flush()
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, evt)
			flusher.Flush()
			if evt.Status.Terminal() {
				return
			}
		}
	}
}

// handleBroadcastSSE streams events of every job.
// GET /v1/events
func (s *Server) handleBroadcastSSE(w http.ResponseWriter, r *http.Request) {
	ch, unsub := s.eventBus.Subscribe(services.AllJobs)
	defer unsub()

	flusher, ok := startSSE(w)
	if !ok {
		return
	}
	fmt.Fprint(w, "event: connected\ndata: *\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, evt)
			flusher.Flush()
		}
	}
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeEvent(w http.ResponseWriter, evt services.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
}
