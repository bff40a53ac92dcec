/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleHLSFile serves playlist and segment files out of the transcoder
// output directory. Playlists must never be cached: the rolling window
// rewrites them every few seconds. Segments are immutable once written.
func (a *API) handleHLSFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" {
		http.NotFound(w, r)
		return
	}

	// Only room-dir/file shapes exist under the HLS root; anything else,
	// including traversal attempts, is rejected before touching the disk.
	clean := path.Clean("/" + rel)[1:]
	parts := strings.Split(clean, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.HasPrefix(clean, "..") {
		http.NotFound(w, r)
		return
	}

	switch filepath.Ext(parts[1]) {
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	case ".ts":
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Cache-Control", "public, max-age=60")
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	http.ServeFile(w, r, filepath.Join(a.hlsPath, parts[0], parts[1]))
}
