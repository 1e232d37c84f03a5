// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package states

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// watchWriteWait bounds a single frame write.
	watchWriteWait = 10 * time.Second

	// watchPongWait is how long a silent client is kept.
	watchPongWait = 60 * time.Second

	// watchPingPeriod must be shorter than watchPongWait.
	watchPingPeriod = watchPongWait * 9 / 10

	// watchBuffer is the per-client event backlog.
	watchBuffer = 64
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWatchStates handles GET {base}/events.
//
// Description:
//
//	Upgrades to a WebSocket and streams one JSON events.Event per
//	committed create, update or delete. The feed carries only changes
//	made after the client connected. A client too slow to drain its
//	backlog misses events rather than stalling writers. Frames sent by
//	the client are read and discarded so close and pong frames are
//	processed.
//
// Response:
//
//	101 Switching Protocols: event stream
//	400 Bad Request: not a WebSocket handshake (written by the upgrader)
func (h *Handlers) HandleWatchStates(c *gin.Context) {
	logger := h.requestLogger(c, "HandleWatchStates")

	ws, err := watchUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sub := h.hub.Subscribe(watchBuffer)
	defer sub.Cancel()
	logger.Info("Watch client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(watchPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(watchPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPingPeriod)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(watchWriteWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := ws.WriteJSON(e); err != nil {
				logger.Warn("Failed to write event", "error", err)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		case <-closed:
			logger.Info("Watch client disconnected", "dropped", sub.Dropped())
			return
		case <-ctx.Done():
			return
		}
	}
}
