/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rooms

import (
	"errors"
	"testing"
)

func TestAdmitStreamerRules(t *testing.T) {
	r := newRoom("room-1", "room-1", nil)

	host, err := r.admit("sock-a", "alice", RoleGuest)
	if err != nil {
		t.Fatalf("first streamer admit: %v", err)
	}
	if host.Role != RoleHost {
		t.Fatalf("first streamer role = %s, want %s", host.Role, RoleHost)
	}

	if _, err := r.admit("sock-b", "bob", RoleHost); !errors.Is(err, ErrHostExists) {
		t.Fatalf("second host admit = %v, want %v", err, ErrHostExists)
	}
	if got := len(r.participants); got != 1 {
		t.Fatalf("participants after rejected host = %d, want 1", got)
	}

	guest, err := r.admit("sock-b", "bob", RoleGuest)
	if err != nil {
		t.Fatalf("guest admit: %v", err)
	}
	if guest.Role != RoleGuest {
		t.Fatalf("guest role = %s, want %s", guest.Role, RoleGuest)
	}

	if _, err := r.admit("sock-c", "carol", RoleGuest); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third streamer admit = %v, want %v", err, ErrRoomFull)
	}

	viewer, err := r.admit("sock-d", "dave", RoleViewer)
	if err != nil {
		t.Fatalf("viewer admit into full room: %v", err)
	}
	if viewer.Role != RoleViewer {
		t.Fatalf("viewer role = %s, want %s", viewer.Role, RoleViewer)
	}
}
