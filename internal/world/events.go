package world

import "github.com/l1jgo/wield/internal/core/ecs"

// Inbound: raised by InventoryState when the player changes the equipped slot.

// Seq orders the avatar's equip requests; outcomes carry it back so stale
// results can be recognised.
type ItemEquipRequested struct {
	Avatar ecs.EntityID
	Peer   PeerID
	Slot   int
	Seq    uint64
	Item   ItemRef
}

type ItemUnequipRequested struct {
	Avatar ecs.EntityID
	Peer   PeerID
	Slot   int
}

// Outbound: raised by the equip controller for animation/UI collaborators.

type WeaponEquipped struct {
	Avatar ecs.EntityID
	Entity ecs.EntityID
	Slot   int
	Item   ItemRef
	Node   string
}

type WeaponUnequipped struct {
	Avatar ecs.EntityID
	Entity ecs.EntityID
	Slot   int
	Item   ItemRef
}

// EquipFailed reports an equip that ended without an attached entity.
// Cancelled (superseded) requests do not raise it.
type EquipFailed struct {
	Avatar ecs.EntityID
	Slot   int
	Seq    uint64
	Item   ItemRef
	Err    error
}

// Avatar lifecycle, published immediately (not buffered) so subscribers can
// bind and release per-avatar state inside the same tick.

type AvatarSpawned struct {
	Avatar *Avatar
}

type AvatarDespawned struct {
	Avatar *Avatar
}
