package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/momentumscan/internal/metrics"
	"github.com/sawpanic/momentumscan/internal/stream"
)

const (
	wsPushInterval = time.Second
	wsWriteWait    = 10 * time.Second
	wsSignalLimit  = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware config; the
	// websocket accepts the same audience.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsUpdate is one push frame: the latest market state plus the current top
// signals.
type wsUpdate struct {
	Type        string              `json:"type"`
	Timestamp   time.Time           `json:"timestamp"`
	Running     bool                `json:"running"`
	MarketState *stream.MarketState `json:"market_state"`
	Signals     []stream.Signal     `json:"signals"`
}

// handleWebsocket streams continuous-scanner updates until the client leaves
// or the server shuts down. Connecting while the scanner is stopped is
// allowed; frames then carry running=false and empty signals.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	// Reader goroutine notices the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			update := wsUpdate{
				Type:        "update",
				Timestamp:   time.Now().UTC(),
				Running:     s.continuous.Running(),
				MarketState: s.continuous.MarketState(),
				Signals:     s.continuous.LatestSignals("", "", 0, wsSignalLimit),
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(update); err != nil {
				s.log.Debug().Err(err).Msg("websocket client dropped")
				return
			}
		}
	}
}
