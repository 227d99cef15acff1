package api

import (
	"net/http"

	"github.com/agentflow-run/agentflow/emit"
)

// streamEvents writes events as Server-Sent-Event frames until the engine
// goroutine reports done, the client disconnects, or a terminal event
// (execution_complete / error) is observed — whichever comes first. The
// stream is closed immediately after the terminal event, per the framing
// contract.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan emit.Event, done <-chan error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write(emit.EncodeEvent(ev)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			if ev.Msg == emit.MsgExecutionComplete || ev.Msg == emit.MsgError {
				return
			}
		case err := <-done:
			if err != nil {
				s.Logger.Error("streamed execution failed", "error", err)
			}
			// Drain any events still queued from the run's final moments
			// before closing, so the terminal frame isn't dropped.
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					if _, werr := w.Write(emit.EncodeEvent(ev)); werr != nil {
						return
					}
					if canFlush {
						flusher.Flush()
					}
					if ev.Msg == emit.MsgExecutionComplete || ev.Msg == emit.MsgError {
						return
					}
				default:
					return
				}
			}
		case <-r.Context().Done():
			return
		}
	}
}
