package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/alphabill-org/transferout/events"
	"github.com/alphabill-org/transferout/events/eventbus"
	"github.com/alphabill-org/transferout/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	// events buffered per client before they are dropped
	wsQueueSize = 64
)

type eventSource interface {
	Subscribe(topic string, capacity uint) (<-chan events.Event, error)
	Unsubscribe(ch <-chan events.Event)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// operator tools are served from other origins, CORS is open for the API too
	CheckOrigin: func(r *http.Request) bool { return true },
}

/*
EventEndpoints registers websocket endpoint which streams all the transfer
lifecycle events in the events.Envelope format.
*/
func EventEndpoints(bus eventSource, log *slog.Logger) Endpoints {
	return func(r *mux.Router) {
		r.HandleFunc("/events", eventStreamHandler(bus, log)).Methods(http.MethodGet)
	}
}

func eventStreamHandler(bus eventSource, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := bus.Subscribe(eventbus.AllTopics, wsQueueSize)
		if err != nil {
			writeError(w, r, log, http.StatusServiceUnavailable, err)
			return
		}
		defer bus.Unsubscribe(ch)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has replied to the client already
			log.DebugContext(r.Context(), "websocket upgrade failed", logger.Error(err))
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go readPump(conn, done)
		if err := writePump(conn, ch, done); err != nil {
			log.DebugContext(r.Context(), "event stream closed", logger.Error(err))
		}
	}
}

/*
readPump discards incoming messages, it is needed to process control frames
and to detect the client going away. Closes "done" when the connection fails.
*/
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, ch <-chan events.Event, done <-chan struct{}) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case e, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// event bus is closing
				return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			}
			msg, err := events.Marshal(e)
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
