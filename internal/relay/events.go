package relay

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"reels-studio/internal/convert"
	"reels-studio/internal/domain"
	"reels-studio/internal/logging"
)

// handleEvents upgrades to a websocket and streams the job's progress. The
// first message is the job's current state; the socket is closed after the
// terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe before reading the snapshot so nothing between them is lost.
	events, unsubscribe := s.conv.Subscribe(id)
	defer unsubscribe()

	job, err := s.conv.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
		)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	last := snapshotEvent(job)
	if err := writeEvent(conn, last); err != nil {
		return
	}
	if last.Status.IsTerminal() {
		closeNormally(conn)
		return
	}

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				closeNormally(conn)
				return
			}
			if ev.Percent < last.Percent && !ev.Status.IsTerminal() {
				continue
			}
			last = ev
			if err := writeEvent(conn, ev); err != nil {
				s.logger.Debug("websocket client dropped",
					logging.String(logging.FieldJobID, id),
					logging.Error(err),
				)
				return
			}
			if ev.Status.IsTerminal() {
				closeNormally(conn)
				return
			}
		}
	}
}

// snapshotEvent renders a job snapshot as a progress event.
func snapshotEvent(job domain.ConversionJob) domain.ProgressEvent {
	stage := job.Stage
	if stage == "" {
		stage = convert.StageStarting
	}
	return domain.ProgressEvent{
		JobID:   job.ID,
		Stage:   stage,
		Percent: job.Percent,
		Status:  job.Status,
	}
}

func writeEvent(conn *websocket.Conn, ev domain.ProgressEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
