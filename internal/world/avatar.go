package world

import (
	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/net"
)

// PeerID identifies a connected peer. It is the session ID of the peer's
// connection; 0 is reserved for the server itself.
type PeerID uint64

// ServerPeer owns objects that no client controls.
const ServerPeer PeerID = 0

// Avatar is an in-world player character.
// Accessed only from the game loop goroutine, no locks needed.
type Avatar struct {
	ID     ecs.EntityID
	Owner  PeerID
	CharID int32 // DB ID
	Name   string
	Rig    string

	Session *net.Session // nil for server-driven avatars and in tests

	Root        *Transform
	Attachments *AttachmentRegistry
	Inv         *Inventory

	// Slot the character had equipped when last saved, re-equipped on enter.
	SavedEquipped int
}

// Send queues data on the avatar's session, if any.
func (a *Avatar) Send(data []byte) {
	if a.Session != nil {
		a.Session.Send(data)
	}
}
