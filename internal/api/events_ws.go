/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/melisma/internal/events"
)

// playbackEventTypes are the bus events forwarded to websocket subscribers.
var playbackEventTypes = []events.EventType{
	events.EventPassageStarted,
	events.EventPassageCompleted,
	events.EventPassageFailed,
	events.EventPositionUpdate,
	events.EventSongBoundaryCrossed,
	events.EventUnderrun,
	events.EventPlaybackStateChange,
	events.EventVolumeChanged,
	events.EventQueueChanged,
	events.EventDeviceChanged,
	events.EventDeviceLost,
	events.EventTimingCorrected,
}

// handleEvents upgrades the connection and streams playback events until the
// client disconnects. Delivery is best-effort: the bus drops events for slow
// subscribers rather than backing up the core.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	sub := a.bus.SubscribeAll(playbackEventTypes...)
	defer a.bus.Unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())

	a.logger.Debug().Str("remote", r.RemoteAddr).Msg("event subscriber connected")

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusNormalClosure, "bus closed")
				return
			}
			bytes, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, ws.MessageText, bytes); err != nil {
				a.logger.Debug().Err(err).Msg("event subscriber write failed")
				return
			}
		}
	}
}
