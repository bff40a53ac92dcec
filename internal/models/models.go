package models

import (
	"time"
)

// Room mirrors one broadcast room in the metadata store. IsActive tracks
// whether a live router currently backs the room; HLSUrl is set only while
// a transcoder is running.
type Room struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"index"`
	IsActive  bool   `gorm:"index"`
	HLSUrl    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant mirrors one connected client. Rows exist only while the
// participant is live; the table is emptied on startup because a crash can
// leave stale rows behind.
type Participant struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	RoomID   string `gorm:"type:uuid;index"`
	SocketID string `gorm:"index"`
	IsHost   bool
	IsViewer bool
	HasVideo bool
	HasAudio bool
	JoinedAt time.Time
}
