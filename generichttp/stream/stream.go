// Package stream pushes periodic device readings to websocket clients
package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Sampler returns the current reading of a device, e.g. a snapshot of
// field and ramp state.  It must be safe to call concurrently.
type Sampler func() (interface{}, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns an http.HandlerFunc which upgrades the connection to a
// websocket and writes the output of sample as JSON every period until the
// client disconnects.  A failed sample is sent as {"error": "..."} and the
// stream continues.
func Handler(sample Sampler, period time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("websocket upgrade failed:", err)
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Println("websocket read error:", err)
					}
					return
				}
			}
		}()

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			var msg interface{}
			v, err := sample()
			if err != nil {
				msg = map[string]string{"error": err.Error()}
			} else {
				msg = v
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}
