package world

import (
	"errors"
	"fmt"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
)

var (
	ErrEmptySlot      = errors.New("slot is empty")
	ErrSlotOutOfRange = errors.New("slot index out of range")
)

// NoSlot marks "nothing equipped".
const NoSlot = -1

// DefaultInventorySize is the number of quick slots a character starts with.
const DefaultInventorySize = 10

// ItemRef identifies the item held in a slot and how to represent it.
type ItemRef struct {
	ObjectID   int32  // unique per instance
	ItemID     int32  // template ID
	Name       string // display name
	Kind       string // template kind: sword, bow, shield...
	Prefab     string // replicated prefab spawned when equipped
	AttachNode string // template-preferred node ("" = rules/default)
}

// InventorySlot is one quick slot.
type InventorySlot struct {
	Index int
	Item  *ItemRef
}

// Inventory is the InventoryState of one avatar: the slot contents and the
// single equipped slot. Changes to the equipped slot are announced on the bus
// as ItemUnequipRequested / ItemEquipRequested, unequip first.
// Accessed only from the game loop goroutine.
type Inventory struct {
	avatar   ecs.EntityID
	owner    PeerID
	bus      *event.Bus
	slots    []InventorySlot
	equipped int
	seq      uint64 // bumped by every equip request
	dirty    bool
}

func NewInventory(avatar ecs.EntityID, owner PeerID, size int, bus *event.Bus) *Inventory {
	if size <= 0 {
		size = DefaultInventorySize
	}
	inv := &Inventory{
		avatar:   avatar,
		owner:    owner,
		bus:      bus,
		slots:    make([]InventorySlot, size),
		equipped: NoSlot,
	}
	for i := range inv.slots {
		inv.slots[i].Index = i
	}
	return inv
}

func (inv *Inventory) Size() int { return len(inv.slots) }

// SetItem places item in a slot (nil clears it). Used while populating from
// persisted data; emits nothing. Clearing the equipped slot unequips it.
func (inv *Inventory) SetItem(index int, item *ItemRef) error {
	if err := inv.check(index); err != nil {
		return err
	}
	inv.slots[index].Item = item
	if item == nil && inv.equipped == index {
		inv.equipped = NoSlot
		inv.emitUnequip(index)
	}
	inv.dirty = true
	return nil
}

func (inv *Inventory) Slot(index int) (InventorySlot, error) {
	if err := inv.check(index); err != nil {
		return InventorySlot{}, err
	}
	return inv.slots[index], nil
}

// Slots returns a copy of all slots.
func (inv *Inventory) Slots() []InventorySlot {
	out := make([]InventorySlot, len(inv.slots))
	copy(out, inv.slots)
	return out
}

// Equipped returns the equipped slot index or NoSlot.
func (inv *Inventory) Equipped() int { return inv.equipped }

// EquipSlot equips index. Another equipped slot is unequipped first.
// Equipping the slot that is already equipped changes nothing.
func (inv *Inventory) EquipSlot(index int) error {
	if err := inv.check(index); err != nil {
		return err
	}
	item := inv.slots[index].Item
	if item == nil {
		return fmt.Errorf("equip slot %d: %w", index, ErrEmptySlot)
	}
	if inv.equipped == index {
		return nil
	}
	if prev := inv.equipped; prev != NoSlot {
		inv.equipped = NoSlot
		inv.emitUnequip(prev)
	}
	inv.equipped = index
	inv.seq++
	inv.dirty = true
	if inv.bus != nil {
		event.Emit(inv.bus, ItemEquipRequested{
			Avatar: inv.avatar,
			Peer:   inv.owner,
			Slot:   index,
			Seq:    inv.seq,
			Item:   *item,
		})
	}
	return nil
}

// UnequipSlot unequips index; no-op when index is not the equipped slot.
func (inv *Inventory) UnequipSlot(index int) error {
	if err := inv.check(index); err != nil {
		return err
	}
	if inv.equipped != index {
		return nil
	}
	inv.equipped = NoSlot
	inv.emitUnequip(index)
	return nil
}

// ToggleSlot is the UI click policy: equip when nothing is equipped,
// unequip when index is the equipped slot, otherwise switch to index.
func (inv *Inventory) ToggleSlot(index int) error {
	if err := inv.check(index); err != nil {
		return err
	}
	if inv.equipped == index {
		return inv.UnequipSlot(index)
	}
	return inv.EquipSlot(index)
}

// EquipSeq returns the sequence number of the latest equip request.
func (inv *Inventory) EquipSeq() uint64 { return inv.seq }

// ClearEquipped drops the equipped mark without emitting, used when the
// equip request seq for index failed or was refused. Outcomes of requests
// superseded by a newer equip leave the mark alone.
func (inv *Inventory) ClearEquipped(index int, seq uint64) bool {
	if index == NoSlot || inv.equipped != index || inv.seq != seq {
		return false
	}
	inv.equipped = NoSlot
	inv.dirty = true
	return true
}

// Dirty reports unsaved changes since the last MarkClean.
func (inv *Inventory) Dirty() bool { return inv.dirty }
func (inv *Inventory) MarkClean()  { inv.dirty = false }

func (inv *Inventory) emitUnequip(index int) {
	inv.dirty = true
	if inv.bus == nil {
		return
	}
	event.Emit(inv.bus, ItemUnequipRequested{
		Avatar: inv.avatar,
		Peer:   inv.owner,
		Slot:   index,
	})
}

func (inv *Inventory) check(index int) error {
	if index < 0 || index >= len(inv.slots) {
		return fmt.Errorf("slot %d of %d: %w", index, len(inv.slots), ErrSlotOutOfRange)
	}
	return nil
}
