package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"track-svr/internal/session"
)

const (
	writeWait    = 10 * time.Second
	outboxLength = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the viewer is served from another origin
	},
}

// Command is one client message on the session channel.
type Command struct {
	Action   string  `json:"action"` // live, replay, device, select, play, pause, stop, seek, rate, leave
	DeviceID *string `json:"device_id,omitempty"`
	Date     string  `json:"date,omitempty"`
	Segment  int     `json:"segment,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
}

// handleWS binds one engine session to the connection. The session starts
// in live mode for ?device_id= and is disposed when the socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	out := make(chan session.Event, outboxLength)
	push := func(ev session.Event) {
		select {
		case out <- ev:
		default:
			s.logger.Warn("viewer too slow, dropping event", "session", ev.Session, "type", ev.Type)
		}
	}

	sess := s.opts.Sessions.Open(r.Context(), push)
	log := s.logger.With("session", sess.ID())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range out {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write error", "err", err)
				_ = conn.Close()
				for range out {
				}
				return
			}
		}
	}()
	defer func() {
		s.opts.Sessions.Close(sess.ID())
		close(out)
		<-writerDone
	}()

	if err := sess.StartLive(r.URL.Query().Get("device_id")); err != nil {
		push(errorEvent(sess.ID(), err))
	}

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read error", "err", err)
			}
			return
		}
		if err := s.dispatch(sess, cmd); err != nil {
			push(errorEvent(sess.ID(), err))
		}
	}
}

func (s *Server) dispatch(sess *session.Session, cmd Command) error {
	switch cmd.Action {
	case "live":
		return sess.StartLive(deviceOr(sess, cmd.DeviceID))
	case "replay":
		date, err := time.ParseInLocation(time.DateOnly, cmd.Date, s.opts.Location)
		if err != nil {
			return errBadDate
		}
		return sess.StartReplay(date, deviceOr(sess, cmd.DeviceID))
	case "device":
		if cmd.DeviceID == nil {
			return errMissingDevice
		}
		return sess.SelectDevice(*cmd.DeviceID)
	case "select":
		return sess.Select(cmd.Segment)
	case "play":
		return sess.Play()
	case "pause":
		return sess.Pause()
	case "stop":
		return sess.Stop()
	case "seek":
		return sess.Seek(cmd.Fraction)
	case "rate":
		return sess.SetRate(cmd.Rate)
	case "leave":
		return sess.Leave()
	default:
		return errUnknownAction(cmd.Action)
	}
}

func deviceOr(sess *session.Session, id *string) string {
	if id != nil {
		return *id
	}
	return sess.Snapshot().DeviceID
}

func errorEvent(id string, err error) session.Event {
	return session.Event{Type: session.EventError, Session: id, Error: err.Error()}
}
