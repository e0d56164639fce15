package handler

import (
	"errors"
	"fmt"

	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
)

// HandleToggleSlot processes C_TOGGLESLOT: [H slot]
// Clicking the equipped slot unequips it, any other slot is equipped.
// The equip itself is carried out by the equip system on the next tick.
func HandleToggleSlot(sess *net.Session, r *packet.Reader, deps *Deps) {
	slot := int(r.ReadH())
	if r.Err() != nil {
		return
	}
	a := deps.World.ByPeer(world.PeerID(sess.ID))
	if a == nil {
		return
	}
	if err := a.Inv.ToggleSlot(slot); err != nil {
		rejectSlot(a, slot, err, deps)
	}
}

// HandleUnequipSlot processes C_UNEQUIPSLOT: [H slot]
func HandleUnequipSlot(sess *net.Session, r *packet.Reader, deps *Deps) {
	slot := int(r.ReadH())
	if r.Err() != nil {
		return
	}
	a := deps.World.ByPeer(world.PeerID(sess.ID))
	if a == nil {
		return
	}
	if err := a.Inv.UnequipSlot(slot); err != nil {
		rejectSlot(a, slot, err, deps)
	}
}

func rejectSlot(a *world.Avatar, slot int, err error, deps *Deps) {
	msg := "invalid slot"
	if errors.Is(err, world.ErrEmptySlot) {
		msg = "empty slot"
	}
	deps.Log.Debug(fmt.Sprintf("欄位操作被拒  角色=%s  欄位=%d", a.Name, slot), zap.Error(err))
	a.Send(EquipResultPacket(packet.EquipRejected, slot, msg))
}
