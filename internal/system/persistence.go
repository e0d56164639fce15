package system

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
	coresys "github.com/l1jgo/wield/internal/core/system"
	"github.com/l1jgo/wield/internal/handler"
	"github.com/l1jgo/wield/internal/persist"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
)

// maxPendingJournal bounds the entries kept while the database is failing.
const maxPendingJournal = 4096

// JournalWriter stores equip outcomes. *persist.JournalRepo implements it.
type JournalWriter interface {
	Write(ctx context.Context, entries []persist.JournalEntry) error
}

// PersistenceSystem writes the equip journal every tick and periodically
// saves dirty inventories. Phase 5 (Persist).
type PersistenceSystem struct {
	world     *world.State
	inventory handler.InventoryStore
	journal   JournalWriter
	log       *zap.Logger
	tickCount int
	interval  int // auto-save every N ticks

	pending []persist.JournalEntry
	// Character IDs outlive the avatar by one tick so the unequip raised on
	// logout can still be journaled.
	chars    map[ecs.EntityID]int32
	retiring []ecs.EntityID
	retired  []ecs.EntityID
}

func NewPersistenceSystem(ws *world.State, bus *event.Bus, inventory handler.InventoryStore, journal JournalWriter, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	s := &PersistenceSystem{
		world:     ws,
		inventory: inventory,
		journal:   journal,
		log:       log,
		interval:  intervalTicks,
		chars:     make(map[ecs.EntityID]int32),
	}
	event.Subscribe(bus, func(e world.AvatarSpawned) {
		s.chars[e.Avatar.ID] = e.Avatar.CharID
	})
	event.Subscribe(bus, func(e world.AvatarDespawned) {
		s.retiring = append(s.retiring, e.Avatar.ID)
	})
	event.Subscribe(bus, func(e world.WeaponEquipped) {
		s.record(e.Avatar, "equip", e.Slot, e.Item.ItemID, e.Node, "ok")
	})
	event.Subscribe(bus, func(e world.WeaponUnequipped) {
		s.record(e.Avatar, "unequip", e.Slot, e.Item.ItemID, "", "ok")
	})
	event.Subscribe(bus, func(e world.EquipFailed) {
		s.record(e.Avatar, "fail", e.Slot, e.Item.ItemID, "", truncate(e.Err.Error(), 128))
	})
	return s
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.flushJournal()
	for _, id := range s.retired {
		delete(s.chars, id)
	}
	s.retired, s.retiring = s.retiring, nil

	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.saveInventories(true)
}

// SaveAll persists the journal and every online inventory immediately,
// ignoring dirty flags. Called for graceful shutdown.
func (s *PersistenceSystem) SaveAll() {
	s.flushJournal()
	s.saveInventories(false)
}

// Pending returns journal entries not yet written.
func (s *PersistenceSystem) Pending() int { return len(s.pending) }

func (s *PersistenceSystem) record(avatar ecs.EntityID, action string, slot int, itemID int32, node, result string) {
	charID, ok := s.chars[avatar]
	if !ok {
		return
	}
	s.pending = append(s.pending, persist.JournalEntry{
		CharID: charID,
		Action: action,
		Slot:   int16(slot),
		ItemID: itemID,
		Node:   node,
		Result: result,
	})
}

func (s *PersistenceSystem) flushJournal() {
	if len(s.pending) == 0 || s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.journal.Write(ctx, s.pending); err != nil {
		// 保留待寫入項目，下個 tick 重試
		s.log.Error("寫入裝備紀錄失敗", zap.Int("筆數", len(s.pending)), zap.Error(err))
		if over := len(s.pending) - maxPendingJournal; over > 0 {
			s.pending = append(s.pending[:0], s.pending[over:]...)
		}
		return
	}
	s.pending = s.pending[:0]
}

func (s *PersistenceSystem) saveInventories(dirtyOnly bool) {
	count := 0
	s.world.Each(func(a *world.Avatar) {
		if dirtyOnly && !a.Inv.Dirty() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handler.SaveInventory(ctx, a, s.inventory); err != nil {
			s.log.Error("自動存檔背包失敗", zap.String("角色", a.Name), zap.Error(err))
			return
		}
		count++
	})
	if count > 0 {
		s.log.Info(fmt.Sprintf("自動存檔完成  角色數=%d", count))
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
