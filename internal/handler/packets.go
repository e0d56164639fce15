package handler

import (
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/persist"
	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/world"
)

// noSlot is how an empty equipped slot goes on the wire.
const noSlot uint16 = 0xFFFF

// avatarPacket: [Q entity][D char id][S name][S rig][H node count]{[S node]}
func avatarPacket(a *world.Avatar) []byte {
	w := packet.NewWriter(packet.S_OPCODE_AVATAR).
		WriteQ(uint64(a.ID)).
		WriteD(a.CharID).
		WriteS(a.Name).
		WriteS(a.Rig)
	var names []string
	if a.Attachments != nil {
		names = a.Attachments.Names()
	}
	w.WriteH(uint16(len(names)))
	for _, n := range names {
		w.WriteS(n)
	}
	return w.Bytes()
}

// inventoryPacket: [H size][H equipped]{[H slot][D object][D item][S name]}
// Only filled slots are listed.
func inventoryPacket(inv *world.Inventory) []byte {
	equipped := noSlot
	if inv.Equipped() != world.NoSlot {
		equipped = uint16(inv.Equipped())
	}
	w := packet.NewWriter(packet.S_OPCODE_INVENTORY).
		WriteH(uint16(inv.Size())).
		WriteH(equipped)
	for _, s := range inv.Slots() {
		if s.Item == nil {
			continue
		}
		w.WriteH(uint16(s.Index)).
			WriteD(s.Item.ObjectID).
			WriteD(s.Item.ItemID).
			WriteS(s.Item.Name)
	}
	return w.Bytes()
}

// charListPacket: [C count]{[S name][S rig][H equipped slot]}
func charListPacket(rows []persist.CharacterRow) []byte {
	w := packet.NewWriter(packet.S_OPCODE_CHARLIST).WriteC(byte(len(rows)))
	for _, c := range rows {
		equipped := noSlot
		if c.EquippedSlot >= 0 {
			equipped = uint16(c.EquippedSlot)
		}
		w.WriteS(c.Name).WriteS(c.Rig).WriteH(equipped)
	}
	return w.Bytes()
}

// EquipResultPacket: [C result][H slot][S message]
func EquipResultPacket(result byte, slot int, msg string) []byte {
	s := noSlot
	if slot >= 0 {
		s = uint16(slot)
	}
	return packet.NewWriter(packet.S_OPCODE_EQUIPRESULT).
		WriteC(result).
		WriteH(s).
		WriteS(msg).
		Bytes()
}

// ReplicationPacket encodes one replication message for game clients.
func ReplicationPacket(m replication.Message) []byte {
	switch m.Kind {
	case replication.KindSpawn:
		return packet.NewWriter(packet.S_OPCODE_OBJECT_SPAWN).
			WriteQ(uint64(m.Object)).
			WriteQ(uint64(m.Owner)).
			WriteS(m.Prefab).
			Bytes()
	case replication.KindDespawn:
		return packet.NewWriter(packet.S_OPCODE_OBJECT_DESPAWN).
			WriteQ(uint64(m.Object)).
			Bytes()
	case replication.KindParent:
		return packet.NewWriter(packet.S_OPCODE_OBJECT_PARENT).
			WriteQ(uint64(m.Object)).
			WriteQ(uint64(m.Avatar)).
			WriteS(m.Node).
			Bytes()
	}
	return nil
}
