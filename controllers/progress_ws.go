package controller

import (
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"leadpilot/engine"
	"leadpilot/utils"
)

// JourneyProgressWS streams step execution events to a websocket
// client. Optional journey_id and lead_id query params narrow the feed.
// Slow clients drop events rather than stalling the engine.
func JourneyProgressWS(eng *engine.Engine, logger *logrus.Logger) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		defer conn.Close()

		journeyID := utils.ParseUint(conn.Query("journey_id"))
		leadID := utils.ParseUint(conn.Query("lead_id"))

		events, cancel := eng.Subscribe()
		defer cancel()

		// Drain client frames so close/ping handling keeps working.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case ev := <-events:
				if journeyID != 0 && ev.JourneyID != journeyID {
					continue
				}
				if leadID != 0 && ev.LeadID != leadID {
					continue
				}
				if err := conn.WriteJSON(ev); err != nil {
					logger.WithError(err).Debug("progress socket write failed")
					return
				}
			}
		}
	}
}
