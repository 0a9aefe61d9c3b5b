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
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSource struct {
	mu    sync.Mutex
	infos []object.Info
}

func (f *fakeSource) Snapshot() []object.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]object.Info(nil), f.infos...)
}

func (f *fakeSource) set(infos ...object.Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos = infos
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func newTestServer(t *testing.T, src Source) *Server {
	t.Helper()
	s, err := New(Config{SnapshotInterval: 20 * time.Millisecond}, src, quietLogger())
	require.NoError(t, err)
	return s
}

func ready(name string) object.Info {
	return object.Info{Name: name, Category: "instrument", State: object.StateReady.String()}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNew_NeedsSource(t *testing.T) {
	_, err := New(Config{}, nil, quietLogger())
	assert.Equal(t, exception.KindInvalidArgument, exception.KindOf(err))
}

func TestHealth(t *testing.T) {
	src := &fakeSource{}
	src.set(ready("a"), ready("b"))
	s := newTestServer(t, src)

	w := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	var h Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, Health{Status: "ok", Objects: 2}, h)

	failed := ready("b")
	failed.State = object.StateError.String()
	failed.Error = "hardware gone"
	src.set(ready("a"), failed)

	w = get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, []string{"b"}, h.Failed)
}

func TestObjects(t *testing.T) {
	src := &fakeSource{}
	warned := ready("lockin")
	warned.Warning = "sensitivity out of range"
	src.set(ready("lockin-hw"), warned)
	s := newTestServer(t, src)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
	}{
		{name: "list", path: "/v1/objects", wantCode: http.StatusOK, wantBody: "lockin-hw"},
		{name: "one", path: "/v1/objects/lockin", wantCode: http.StatusOK, wantBody: "sensitivity out of range"},
		{name: "missing", path: "/v1/objects/nope", wantCode: http.StatusNotFound, wantBody: "object not found"},
		{name: "unknown route", path: "/v2/objects", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, s.Handler(), tt.path)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}

	w := get(t, s.Handler(), "/v1/objects/lockin")
	var info object.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, warned, info)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	w := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestWatch(t *testing.T) {
	src := &fakeSource{}
	src.set(ready("a"))
	s := newTestServer(t, src)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/watch"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var snap Snapshot
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&snap))
	require.Len(t, snap.Objects, 1)
	assert.Equal(t, "a", snap.Objects[0].Name)

	src.set(ready("a"), ready("b"))
	for len(snap.Objects) != 2 {
		require.NoError(t, ws.ReadJSON(&snap))
	}
	assert.Equal(t, "b", snap.Objects[1].Name)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestWatch_RequiresUpgrade(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	w := get(t, s.Handler(), "/v1/watch")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeListener(t *testing.T) {
	src := &fakeSource{}
	src.set(ready("a"))
	s := newTestServer(t, src)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, lis) }()

	url := "http://" + lis.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not return")
	}
}

func TestServe_BadAddress(t *testing.T) {
	s, err := New(Config{Listen: "not-an-address"}, &fakeSource{}, quietLogger())
	require.NoError(t, err)
	err = s.Serve(context.Background())
	assert.Equal(t, exception.KindNotAvailable, exception.KindOf(err))
}
