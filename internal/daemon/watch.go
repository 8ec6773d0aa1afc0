package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"holo/internal/api"
	"holo/internal/logging"
)

const (
	watchPollInterval = 2 * time.Second
	watchWriteTimeout = 10 * time.Second
)

// newUpgrader only completes handshakes from origins on the CORS allow-list.
func newUpgrader(origins originPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
}

// handleWatch streams job views over a websocket until the job is terminal.
// A frame is sent on every change notification for the job, and on a slow
// poll so updates from other processes sharing the store are not missed.
func (s *apiServer) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	logger := logging.WithContext(r.Context(), s.logger).With(logging.JobID(view.ID))

	updates, unsubscribe := s.watcher.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v api.JobView) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			logger.Debug("watch client gone", logging.Error(err))
			return false
		}
		return true
	}
	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(view.Status))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteTimeout))
	}

	if !send(view) {
		return
	}
	if view.IsTerminal() {
		closeNormal()
		return
	}

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case changed, ok := <-updates:
			if !ok {
				return
			}
			if changed != view.ID {
				continue
			}
		case <-ticker.C:
		}

		next, err := s.jobs.GetJob(ctx, view.ID)
		if err != nil {
			logger.Debug("watch refresh failed", logging.Error(err))
			continue
		}
		if next.Status == view.Status && next.Progress == view.Progress && next.UpdatedAt == view.UpdatedAt {
			continue
		}
		view = next
		if !send(view) {
			return
		}
		if view.IsTerminal() {
			closeNormal()
			return
		}
	}
}
