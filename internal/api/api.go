/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the REST surface: room directory management for
// operators and the public stream listing viewers poll before they start
// pulling HLS.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/duocast/internal/cache"
	"github.com/friendsincode/duocast/internal/models"
	"github.com/friendsincode/duocast/internal/rooms"
)

// API exposes HTTP handlers.
type API struct {
	store   *rooms.Store
	orch    *rooms.Orchestrator
	cache   *cache.Cache
	hlsPath string
	logger  zerolog.Logger
}

// New creates the API router wrapper. cacheLayer may be nil.
func New(store *rooms.Store, orch *rooms.Orchestrator, cacheLayer *cache.Cache, hlsPath string, logger zerolog.Logger) *API {
	return &API{
		store:   store,
		orch:    orch,
		cache:   cacheLayer,
		hlsPath: hlsPath,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers all REST and HLS delivery routes.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", a.handleRoomsList)
			r.Post("/", a.handleRoomCreate)
			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", a.handleRoomGet)
				r.Delete("/", a.handleRoomDelete)
				r.Get("/participants", a.handleRoomParticipants)
			})
		})

		r.Get("/streams", a.handleStreamsList)
		r.Get("/streams/{roomID}", a.handleStreamGet)
	})

	r.Get("/hls/*", a.handleHLSFile)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// roomView is the wire form of a room on the REST surface.
func roomView(room *models.Room) cache.CachedRoom {
	return cache.CachedRoom{
		ID:        room.ID,
		Name:      room.Name,
		IsActive:  room.IsActive,
		HLSUrl:    room.HLSUrl,
		CreatedAt: room.CreatedAt,
	}
}

func (a *API) handleRoomsList(w http.ResponseWriter, r *http.Request) {
	if a.cache != nil {
		if cached, ok := a.cache.GetRoomList(r.Context()); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	listed, err := a.store.ListRooms(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list rooms")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]cache.CachedRoom, 0, len(listed))
	for i := range listed {
		out = append(out, roomView(&listed[i]))
	}
	if a.cache != nil {
		_ = a.cache.SetRoomList(r.Context(), out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRoomCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	room, err := a.store.CreateRoom(r.Context(), req.Name)
	if err != nil {
		a.logger.Error().Err(err).Msg("create room")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if a.cache != nil {
		_ = a.cache.InvalidateRoomList(r.Context())
	}
	writeJSON(w, http.StatusCreated, roomView(room))
}

func (a *API) handleRoomGet(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	room, err := a.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("get room")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, roomView(room))
}

// handleRoomDelete force-closes the live room (disconnecting everyone in
// it) and removes the directory entry.
func (a *API) handleRoomDelete(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	a.orch.CloseRoom(roomID)

	err := a.store.DeleteRoom(r.Context(), roomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("delete room")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if a.cache != nil {
		_ = a.cache.InvalidateRoomList(r.Context())
		_ = a.cache.InvalidateStream(r.Context(), roomID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type participantView struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	IsHost   bool      `json:"is_host"`
	IsViewer bool      `json:"is_viewer"`
	HasAudio bool      `json:"has_audio"`
	HasVideo bool      `json:"has_video"`
	JoinedAt time.Time `json:"joined_at"`
}

func (a *API) handleRoomParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if _, err := a.store.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("get room")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	listed, err := a.store.ParticipantsInRoom(r.Context(), roomID)
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("list participants")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]participantView, 0, len(listed))
	for _, p := range listed {
		out = append(out, participantView{
			ID:       p.ID,
			RoomID:   p.RoomID,
			IsHost:   p.IsHost,
			IsViewer: p.IsViewer,
			HasAudio: p.HasAudio,
			HasVideo: p.HasVideo,
			JoinedAt: p.JoinedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func streamView(room *models.Room) cache.CachedStream {
	return cache.CachedStream{
		RoomID:      room.ID,
		Name:        room.Name,
		PlaylistURL: room.HLSUrl,
		StartedAt:   room.UpdatedAt,
	}
}

func (a *API) handleStreamsList(w http.ResponseWriter, r *http.Request) {
	if a.cache != nil {
		if cached, ok := a.cache.GetStreamList(r.Context()); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	listed, err := a.store.ActiveStreams(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list streams")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]cache.CachedStream, 0, len(listed))
	for i := range listed {
		out = append(out, streamView(&listed[i]))
	}
	if a.cache != nil {
		_ = a.cache.SetStreamList(r.Context(), out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleStreamGet(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	if a.cache != nil {
		if cached, ok := a.cache.GetStream(r.Context(), roomID); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	room, err := a.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("get room")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if room.HLSUrl == "" {
		writeError(w, http.StatusNotFound, "not_live")
		return
	}

	stream := streamView(room)
	if a.cache != nil {
		_ = a.cache.SetStream(r.Context(), &stream)
	}
	writeJSON(w, http.StatusOK, stream)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
