// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// Health is the /healthz body.
type Health struct {
	Status  string   `json:"status"`
	Objects int      `json:"objects"`
	Failed  []string `json:"failed,omitempty"`
}

// Snapshot is one message of the /v1/watch websocket.
type Snapshot struct {
	Time    time.Time     `json:"time"`
	Objects []object.Info `json:"objects"`
}

func (s *Server) health(c *gin.Context) {
	infos := s.src.Snapshot()
	h := Health{Status: "ok", Objects: len(infos)}
	for _, info := range infos {
		if info.State == object.StateError.String() {
			h.Failed = append(h.Failed, info.Name)
		}
	}
	if len(h.Failed) > 0 {
		h.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, h)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) listObjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"objects": s.src.Snapshot()})
}

func (s *Server) getObject(c *gin.Context) {
	name := c.Param("name")
	for _, info := range s.src.Snapshot() {
		if info.Name == name {
			c.JSON(http.StatusOK, info)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "object not found", "name": name})
}

var upgrader = websocket.Upgrader{
	// The status surface is read-only.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

const writeWait = 2 * time.Second

// watch pushes a Snapshot immediately and then every SnapshotInterval until
// the client goes away.
func (s *Server) watch(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ctx := c.Request.Context()
	s.metrics.WatchersActive.Add(ctx, 1)
	defer s.metrics.WatchersActive.Add(ctx, -1)
	s.log.Debug("watcher connected", "remote", c.Request.RemoteAddr)

	// Clients only send close frames; the read loop notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(Snapshot{Time: time.Now(), Objects: s.src.Snapshot()}); err != nil {
			s.log.Debug("watcher write failed", "error", err)
			return
		}
		s.metrics.SnapshotsSent.Add(ctx, 1)

		select {
		case <-ticker.C:
		case <-gone:
			s.log.Debug("watcher disconnected", "remote", c.Request.RemoteAddr)
			return
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
