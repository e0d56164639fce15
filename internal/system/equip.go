package system

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
	coresys "github.com/l1jgo/wield/internal/core/system"
	"github.com/l1jgo/wield/internal/equip"
	"github.com/l1jgo/wield/internal/handler"
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/scripting"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
)

// EquipSystem 為每個在線角色綁定一個裝備控制器，把背包的穿脫請求交給
// 控制器，並把結果回報給玩家。Phase 2 (Update)。
type EquipSystem struct {
	ctx  context.Context
	deps *handler.Deps
	log  *zap.Logger

	avatars map[ecs.EntityID]*binding
	subs    []*event.Subscription
}

// binding 是單一角色的控制器與其事件訂閱，角色離開世界時一併釋放。
type binding struct {
	avatar *world.Avatar
	ctrl   *equip.Controller
	subs   []*event.Subscription
}

func (b *binding) release() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}

// NewEquipSystem 建立裝備系統並訂閱角色生命週期事件。
func NewEquipSystem(ctx context.Context, deps *handler.Deps) *EquipSystem {
	s := &EquipSystem{
		ctx:     ctx,
		deps:    deps,
		log:     deps.Log.Named("equip"),
		avatars: make(map[ecs.EntityID]*binding),
	}
	s.subs = append(s.subs,
		event.Subscribe(deps.Bus, s.onAvatarSpawned),
		event.Subscribe(deps.Bus, s.onAvatarDespawned),
	)
	return s
}

func (s *EquipSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

// Update 依實體順序推進每個控制器。
func (s *EquipSystem) Update(_ time.Duration) {
	ids := make([]ecs.EntityID, 0, len(s.avatars))
	for id := range s.avatars {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.avatars[id].ctrl.Tick()
	}
}

// Controller 回傳角色的控制器（不存在時為 nil）。
func (s *EquipSystem) Controller(avatar ecs.EntityID) *equip.Controller {
	if b, ok := s.avatars[avatar]; ok {
		return b.ctrl
	}
	return nil
}

// Close 取消所有訂閱。
func (s *EquipSystem) Close() {
	for _, b := range s.avatars {
		b.release()
	}
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// forAvatar 只把屬於 id 的事件交給 fn。
func forAvatar[T any](id ecs.EntityID, avatarOf func(T) ecs.EntityID, fn func(T)) func(T) {
	return func(e T) {
		if avatarOf(e) == id {
			fn(e)
		}
	}
}

func (s *EquipSystem) onAvatarSpawned(e world.AvatarSpawned) {
	a := e.Avatar
	if _, ok := s.avatars[a.ID]; ok {
		return
	}
	cfg := s.deps.Config.Equip
	b := &binding{
		avatar: a,
		ctrl: equip.NewController(
			s.ctx, a.ID, a.Attachments, s.deps.Gateway, s.deps.Oracle, s.deps.Bus,
			equip.Options{
				DefaultNode:       cfg.DefaultNode,
				SpawnTimeoutTicks: cfg.SpawnTimeoutTicks,
			},
			s.log,
		),
	}
	bus := s.deps.Bus
	b.subs = []*event.Subscription{
		event.Subscribe(bus, forAvatar(a.ID,
			func(e world.ItemEquipRequested) ecs.EntityID { return e.Avatar },
			func(e world.ItemEquipRequested) { s.onEquipRequested(b, e) })),
		event.Subscribe(bus, forAvatar(a.ID,
			func(e world.ItemUnequipRequested) ecs.EntityID { return e.Avatar },
			func(e world.ItemUnequipRequested) { s.onUnequipRequested(b, e) })),
		event.Subscribe(bus, forAvatar(a.ID,
			func(e world.WeaponEquipped) ecs.EntityID { return e.Avatar },
			func(e world.WeaponEquipped) {
				a.Send(handler.EquipResultPacket(packet.EquipOK, e.Slot, e.Node))
			})),
		event.Subscribe(bus, forAvatar(a.ID,
			func(e world.WeaponUnequipped) ecs.EntityID { return e.Avatar },
			func(e world.WeaponUnequipped) {
				a.Send(handler.EquipResultPacket(packet.EquipUnequip, e.Slot, ""))
			})),
		event.Subscribe(bus, forAvatar(a.ID,
			func(e world.EquipFailed) ecs.EntityID { return e.Avatar },
			func(e world.EquipFailed) { s.rollback(a, e.Slot, e.Seq, packet.EquipFailed, e.Err.Error()) })),
	}
	s.avatars[a.ID] = b
}

func (s *EquipSystem) onAvatarDespawned(e world.AvatarDespawned) {
	b, ok := s.avatars[e.Avatar.ID]
	if !ok {
		return
	}
	b.release()
	b.ctrl.OnAvatarDespawn()
	delete(s.avatars, e.Avatar.ID)
}

func (s *EquipSystem) onEquipRequested(b *binding, e world.ItemEquipRequested) {
	a := b.avatar
	tmpl := s.deps.Items.Get(e.Item.ItemID)
	if tmpl == nil || !tmpl.Equippable {
		s.reject(a, e, "not equippable")
		return
	}

	node := e.Item.AttachNode
	if eng := s.deps.Scripting; eng != nil {
		ictx := scripting.ItemContext{
			ItemID:     e.Item.ItemID,
			Name:       e.Item.Name,
			Kind:       e.Item.Kind,
			Prefab:     e.Item.Prefab,
			AttachNode: e.Item.AttachNode,
			Slot:       e.Slot,
			AvatarName: a.Name,
			Rig:        a.Rig,
		}
		if ok, reason := eng.CanEquip(ictx); !ok {
			if reason == "" {
				reason = "not allowed"
			}
			s.reject(a, e, reason)
			return
		}
		if node == "" {
			node = eng.AttachNodeFor(ictx)
		}
	}

	req := equip.Request{Slot: e.Slot, Seq: e.Seq, Item: e.Item, Node: node}
	if _, err := b.ctrl.Equip(e.Peer, req); err != nil {
		s.log.Warn(fmt.Sprintf("裝備請求失敗  角色=%s  欄位=%d", a.Name, e.Slot), zap.Error(err))
		s.rollback(a, e.Slot, e.Seq, packet.EquipFailed, err.Error())
	}
}

func (s *EquipSystem) onUnequipRequested(b *binding, e world.ItemUnequipRequested) {
	if err := b.ctrl.Unequip(e.Peer); err != nil {
		s.log.Warn(fmt.Sprintf("卸下請求失敗  欄位=%d", e.Slot), zap.Error(err))
	}
}

func (s *EquipSystem) reject(a *world.Avatar, e world.ItemEquipRequested, reason string) {
	if s.rollback(a, e.Slot, e.Seq, packet.EquipRejected, reason) {
		s.log.Info(fmt.Sprintf("裝備被規則拒絕  角色=%s  欄位=%d  原因=%s", a.Name, e.Slot, reason))
	}
}

// rollback 讓背包不再標示該欄位為已裝備並通知玩家。已被較新請求取代的
// 結果不處理，回傳 false。
func (s *EquipSystem) rollback(a *world.Avatar, slot int, seq uint64, result byte, msg string) bool {
	if !a.Inv.ClearEquipped(slot, seq) {
		s.log.Debug("忽略已過期的裝備結果",
			zap.String("角色", a.Name),
			zap.Int("欄位", slot),
			zap.Uint64("序號", seq),
			zap.Uint64("目前序號", a.Inv.EquipSeq()),
		)
		return false
	}
	a.Send(handler.EquipResultPacket(result, slot, msg))
	return true
}
