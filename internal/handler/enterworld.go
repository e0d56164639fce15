package handler

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/l1jgo/wield/internal/core/event"
	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/persist"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
)

const maxCharNameLen = 16

var errCharacterLimit = errors.New("character limit reached")

// HandleEnterWorld processes C_ENTERWORLD.
// Format: [opcode][S character name]
// Loads or creates the character, builds its rig and attachment nodes,
// restores the inventory and re-equips the slot that was saved as equipped.
func HandleEnterWorld(sess *net.Session, r *packet.Reader, deps *Deps) {
	charName := r.ReadS()
	if r.Err() != nil || charName == "" || utf8.RuneCountInString(charName) > maxCharNameLen {
		sendLoginResult(sess, packet.LoginNoAccount)
		return
	}
	peer := world.PeerID(sess.ID)
	if deps.World.ByPeer(peer) != nil {
		return
	}
	if other := deps.World.ByName(charName); other != nil {
		deps.Log.Warn(fmt.Sprintf("角色已在線上  角色=%s", charName))
		sendLoginResult(sess, packet.LoginInUse)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, created, err := loadOrCreateCharacter(ctx, sess.AccountName, charName, deps)
	if errors.Is(err, errCharacterLimit) {
		deps.Log.Info(fmt.Sprintf("角色數量已達上限  帳號=%s  上限=%d", sess.AccountName, deps.Config.Account.MaxCharacters))
		sendLoginResult(sess, packet.LoginCharLimit)
		return
	}
	if err != nil {
		deps.Log.Error("載入角色資料庫錯誤", zap.String("角色", charName), zap.Error(err))
		sendLoginResult(sess, packet.LoginServerError)
		return
	}
	if row == nil {
		sendLoginResult(sess, packet.LoginNoAccount)
		return
	}
	if row.AccountName != sess.AccountName {
		deps.Log.Warn(fmt.Sprintf("角色不屬於此帳號  角色=%s  帳號=%s", charName, sess.AccountName))
		sendLoginResult(sess, packet.LoginNoAccount)
		return
	}

	if created {
		if err := seedStarterItems(ctx, row.ID, deps); err != nil {
			deps.Log.Error("寫入初始物品資料庫錯誤", zap.String("角色", charName), zap.Error(err))
		}
	}
	slots, err := deps.InventoryRepo.Load(ctx, row.ID)
	if err != nil {
		deps.Log.Error("載入背包資料庫錯誤", zap.String("角色", charName), zap.Error(err))
		sendLoginResult(sess, packet.LoginServerError)
		return
	}

	root, err := deps.Rigs.Build(row.Rig)
	if err != nil {
		deps.Log.Error("建立骨架失敗", zap.String("角色", charName), zap.String("rig", row.Rig), zap.Error(err))
		sendLoginResult(sess, packet.LoginServerError)
		return
	}

	id := deps.ECS.CreateEntity()
	a := &world.Avatar{
		ID:            id,
		Owner:         peer,
		CharID:        row.ID,
		Name:          row.Name,
		Rig:           row.Rig,
		Session:       sess,
		Root:          root,
		Attachments:   world.BuildAttachmentRegistry(id, root, deps.Log),
		Inv:           world.NewInventory(id, peer, deps.Config.Equip.InventorySize, deps.Bus),
		SavedEquipped: int(row.EquippedSlot),
	}
	restoreInventory(a, slots, deps)

	deps.Oracle.Assign(id, peer)
	deps.World.Add(a)
	sess.CharName = a.Name
	sess.SetState(packet.StateInWorld)

	a.Send(avatarPacket(a))
	a.Send(inventoryPacket(a.Inv))
	for _, m := range deps.Gateway.Snapshot() {
		a.Send(ReplicationPacket(m))
	}

	event.Publish(deps.Bus, world.AvatarSpawned{Avatar: a})

	if a.SavedEquipped != world.NoSlot {
		if err := a.Inv.EquipSlot(a.SavedEquipped); err != nil {
			deps.Log.Warn(fmt.Sprintf("還原裝備失敗  角色=%s  欄位=%d", a.Name, a.SavedEquipped), zap.Error(err))
		}
	}

	deps.Log.Info(fmt.Sprintf("角色進入世界  角色=%s  帳號=%s  節點數=%d  物品數=%d",
		a.Name, sess.AccountName, a.Attachments.Len(), len(slots)))
}

func loadOrCreateCharacter(ctx context.Context, account, name string, deps *Deps) (*persist.CharacterRow, bool, error) {
	row, err := deps.CharRepo.LoadByName(ctx, name)
	if err != nil || row != nil {
		return row, false, err
	}
	if !deps.Config.Account.AutoCreate {
		return nil, false, nil
	}
	owned, err := deps.CharRepo.LoadByAccount(ctx, account)
	if err != nil {
		return nil, false, err
	}
	if len(owned) >= deps.Config.Account.MaxCharacters {
		return nil, false, errCharacterLimit
	}
	rig := deps.Config.Equip.Rig
	if !deps.Rigs.Has(rig) {
		return nil, false, fmt.Errorf("default rig %q not loaded", rig)
	}
	row, err = deps.CharRepo.Create(ctx, account, name, rig)
	if err != nil {
		return nil, false, err
	}
	deps.Log.Info(fmt.Sprintf("建立角色  角色=%s  帳號=%s", name, account))
	return row, true, nil
}

func seedStarterItems(ctx context.Context, charID int32, deps *Deps) error {
	var rows []persist.SlotRow
	for _, it := range deps.Items.Starters() {
		if it.StarterSlot >= deps.Config.Equip.InventorySize {
			continue
		}
		rows = append(rows, persist.SlotRow{SlotIndex: int16(it.StarterSlot), ItemID: it.ItemID})
	}
	if len(rows) == 0 {
		return nil
	}
	return deps.InventoryRepo.Save(ctx, charID, rows, -1)
}

// restoreInventory fills the avatar's inventory from stored rows. Unknown
// items and out-of-range slots are skipped. Restoring emits nothing.
func restoreInventory(a *world.Avatar, rows []persist.SlotRow, deps *Deps) {
	for _, row := range rows {
		tmpl := deps.Items.Get(row.ItemID)
		if tmpl == nil {
			deps.Log.Warn(fmt.Sprintf("未知物品  角色=%s  物品=%d", a.Name, row.ItemID))
			continue
		}
		ref := tmpl.Ref(row.ID)
		if err := a.Inv.SetItem(int(row.SlotIndex), &ref); err != nil {
			deps.Log.Warn(fmt.Sprintf("背包欄位無效  角色=%s  欄位=%d", a.Name, row.SlotIndex), zap.Error(err))
		}
	}
	if a.SavedEquipped != world.NoSlot {
		if s, err := a.Inv.Slot(a.SavedEquipped); err != nil || s.Item == nil {
			a.SavedEquipped = world.NoSlot
		}
	}
	a.Inv.MarkClean()
}

// SaveInventory writes the avatar's slots and equipped slot.
func SaveInventory(ctx context.Context, a *world.Avatar, repo InventoryStore) error {
	var rows []persist.SlotRow
	for _, s := range a.Inv.Slots() {
		if s.Item == nil {
			continue
		}
		rows = append(rows, persist.SlotRow{
			ID:        s.Item.ObjectID,
			SlotIndex: int16(s.Index),
			ItemID:    s.Item.ItemID,
		})
	}
	if err := repo.Save(ctx, a.CharID, rows, int16(a.Inv.Equipped())); err != nil {
		return err
	}
	a.Inv.MarkClean()
	return nil
}

// LeaveWorld removes the avatar bound to sess, if any. Subscribers release
// per-avatar state on AvatarDespawned before the inventory is saved, so the
// stored equipped slot is what the player last chose.
func LeaveWorld(sess *net.Session, deps *Deps) {
	a := deps.World.ByPeer(world.PeerID(sess.ID))
	if a != nil {
		event.Publish(deps.Bus, world.AvatarDespawned{Avatar: a})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := SaveInventory(ctx, a, deps.InventoryRepo); err != nil {
			deps.Log.Error("儲存背包資料庫錯誤", zap.String("角色", a.Name), zap.Error(err))
		}
		cancel()

		deps.World.Remove(a.ID)
		deps.Oracle.Revoke(a.ID)
		deps.ECS.MarkForDestruction(a.ID)
		deps.Log.Info(fmt.Sprintf("角色離開世界  角色=%s", a.Name))
	}

	if sess.AccountName != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := deps.AccountRepo.SetOnline(ctx, sess.AccountName, false); err != nil {
			deps.Log.Error("設定離線狀態資料庫錯誤", zap.Error(err))
		}
		cancel()
	}
}
