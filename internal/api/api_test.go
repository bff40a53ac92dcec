/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/duocast/internal/api"
	"github.com/friendsincode/duocast/internal/cache"
	"github.com/friendsincode/duocast/internal/db"
	"github.com/friendsincode/duocast/internal/rooms"
)

type apiEnv struct {
	store   *rooms.Store
	server  *httptest.Server
	hlsPath string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := rooms.NewStore(database, zerolog.Nop())
	orch := rooms.New(rooms.Options{Logger: zerolog.Nop()})
	t.Cleanup(orch.Close)

	hlsPath := t.TempDir()
	a := api.New(store, orch, nil, hlsPath, zerolog.Nop())

	router := chi.NewRouter()
	a.Routes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiEnv{store: store, server: server, hlsPath: hlsPath}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestRoomLifecycle(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/rooms", map[string]string{"name": "morning show"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created cache.CachedRoom
	decodeBody(t, resp, &created)
	if created.ID == "" || created.Name != "morning show" || created.IsActive {
		t.Fatalf("created = %+v", created)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/rooms/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/rooms/", nil)
	var listed []cache.CachedRoom
	decodeBody(t, resp, &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("listed = %+v", listed)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/rooms/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/api/v1/rooms/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodDelete, "/api/v1/rooms/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d", resp.StatusCode)
	}
}

func TestCreateRoomRejectsBadJSON(t *testing.T) {
	env := newAPIEnv(t)
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/rooms", bytes.NewReader([]byte("{nope")))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "invalid_json" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestStreamsListingTracksHLSUrl(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	if _, err := env.store.EnsureRoom(ctx, "room-live", ""); err != nil {
		t.Fatalf("ensure room: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/streams", nil)
	var streams []cache.CachedStream
	decodeBody(t, resp, &streams)
	if len(streams) != 0 {
		t.Fatalf("streams = %+v, want none", streams)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/streams/room-live", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("idle stream status = %d", resp.StatusCode)
	}

	if err := env.store.SetRoomHLSUrl(ctx, "room-live", "/hls/room-live/playlist.m3u8"); err != nil {
		t.Fatalf("set hls url: %v", err)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/streams", nil)
	decodeBody(t, resp, &streams)
	if len(streams) != 1 || streams[0].PlaylistURL != "/hls/room-live/playlist.m3u8" {
		t.Fatalf("streams = %+v", streams)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/streams/room-live", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live stream status = %d", resp.StatusCode)
	}
	var stream cache.CachedStream
	decodeBody(t, resp, &stream)
	if stream.RoomID != "room-live" {
		t.Fatalf("stream = %+v", stream)
	}
}

func TestHLSDelivery(t *testing.T) {
	env := newAPIEnv(t)

	segDir := filepath.Join(env.hlsPath, "room-x")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n"
	if err := os.WriteFile(filepath.Join(segDir, "playlist.m3u8"), []byte(playlist), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(segDir, "seg00000.ts"), []byte("tsdata"), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/hls/room-x/playlist.m3u8", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("playlist status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Fatalf("playlist content type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Fatalf("playlist cache control = %q", cc)
	}

	resp = env.do(t, http.MethodGet, "/hls/room-x/seg00000.ts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("segment status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp2t" {
		t.Fatalf("segment content type = %q", ct)
	}

	for _, path := range []string{
		"/hls/room-x/../../etc/passwd",
		"/hls/room-x/notes.txt",
		"/hls/playlist.m3u8",
	} {
		resp = env.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}
