/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/duocast/internal/models"
)

// Store mirrors live room and participant state into the metadata database.
// The in-memory orchestrator stays authoritative; the store exists so the
// REST API and external consumers can list rooms and active streams without
// touching the media layer.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a room metadata store.
func NewStore(database *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     database,
		logger: logger.With().Str("component", "room_store").Logger(),
	}
}

// EnsureRoom fetches the room row, creating it on the fly when a participant
// joins a room nobody has seen before. Existing rows are reactivated.
func (s *Store) EnsureRoom(ctx context.Context, id, name string) (*models.Room, error) {
	if name == "" {
		name = id
	}

	var room models.Room
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err == nil {
		if !room.IsActive {
			room.IsActive = true
			if err := s.db.WithContext(ctx).Model(&room).Update("is_active", true).Error; err != nil {
				return nil, fmt.Errorf("reactivate room: %w", err)
			}
		}
		return &room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query room: %w", err)
	}

	room = models.Room{
		ID:       id,
		Name:     name,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &room, nil
}

// CreateRoom inserts a new inactive room with a fresh id. Used by the REST
// API; the room activates when the first participant joins.
func (s *Store) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	room := models.Room{
		ID:   uuid.NewString(),
		Name: name,
	}
	if room.Name == "" {
		room.Name = room.ID
	}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &room, nil
}

// GetRoom fetches one room row.
func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &room, nil
}

// ListRooms returns all known rooms, newest first.
func (s *Store) ListRooms(ctx context.Context) ([]models.Room, error) {
	var out []models.Room
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return out, nil
}

// DeleteRoom removes the room row and its participant rows.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("room_id = ?", id).Delete(&models.Participant{}).Error
	if err != nil {
		return fmt.Errorf("delete room participants: %w", err)
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Room{})
	if res.Error != nil {
		return fmt.Errorf("delete room: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// SetRoomActive flips the liveness mirror for a room.
func (s *Store) SetRoomActive(ctx context.Context, id string, active bool) error {
	updates := map[string]any{"is_active": active}
	if !active {
		updates["hls_url"] = ""
	}
	err := s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update room active: %w", err)
	}
	return nil
}

// SetRoomHLSUrl records the playlist URL while a transcoder runs, or clears
// it with an empty string when the transcoder stops.
func (s *Store) SetRoomHLSUrl(ctx context.Context, id, url string) error {
	err := s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", id).Update("hls_url", url).Error
	if err != nil {
		return fmt.Errorf("update room hls url: %w", err)
	}
	return nil
}

// ActiveStreams lists the rooms currently serving HLS.
func (s *Store) ActiveStreams(ctx context.Context) ([]models.Room, error) {
	var out []models.Room
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND hls_url != ''", true).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list active streams: %w", err)
	}
	return out, nil
}

// AddParticipant mirrors a freshly admitted participant.
func (s *Store) AddParticipant(ctx context.Context, p *Participant) error {
	row := models.Participant{
		ID:       p.ID,
		RoomID:   p.RoomID,
		SocketID: p.SocketID,
		IsHost:   p.IsHost(),
		IsViewer: p.IsViewer(),
		JoinedAt: p.JoinedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// RemoveParticipant drops the participant mirror row.
func (s *Store) RemoveParticipant(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Participant{}).Error
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return nil
}

// SetParticipantMedia updates the mirrored media flags after a produce or a
// producer close.
func (s *Store) SetParticipantMedia(ctx context.Context, id string, hasAudio, hasVideo bool) error {
	err := s.db.WithContext(ctx).Model(&models.Participant{}).Where("id = ?", id).
		Updates(map[string]any{"has_audio": hasAudio, "has_video": hasVideo}).Error
	if err != nil {
		return fmt.Errorf("update participant media: %w", err)
	}
	return nil
}

// ParticipantsInRoom lists the mirrored participants of one room in join
// order.
func (s *Store) ParticipantsInRoom(ctx context.Context, roomID string) ([]models.Participant, error) {
	var out []models.Participant
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}
