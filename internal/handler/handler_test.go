package handler

import (
	"context"
	gonet "net"
	"sort"
	"testing"
	"time"

	"github.com/l1jgo/wield/internal/config"
	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
	"github.com/l1jgo/wield/internal/data"
	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/persist"
	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memAccounts struct {
	rows map[string]*persist.AccountRow
}

func (m *memAccounts) Load(_ context.Context, name string) (*persist.AccountRow, error) {
	if a, ok := m.rows[name]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccounts) Create(_ context.Context, name, raw, ip string) (*persist.AccountRow, error) {
	hash, err := persist.HashPassword(raw)
	if err != nil {
		return nil, err
	}
	m.rows[name] = &persist.AccountRow{Name: name, PasswordHash: hash, IP: ip}
	cp := *m.rows[name]
	return &cp, nil
}

func (m *memAccounts) UpdateLastActive(context.Context, string, string) error { return nil }

func (m *memAccounts) SetOnline(_ context.Context, name string, online bool) error {
	if a, ok := m.rows[name]; ok {
		a.Online = online
	}
	return nil
}

type memChars struct {
	rows   map[string]*persist.CharacterRow
	nextID int32
}

func (m *memChars) LoadByAccount(_ context.Context, account string) ([]persist.CharacterRow, error) {
	var out []persist.CharacterRow
	for _, c := range m.rows {
		if c.AccountName == account {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memChars) LoadByName(_ context.Context, name string) (*persist.CharacterRow, error) {
	if c, ok := m.rows[name]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memChars) Create(_ context.Context, account, name, rig string) (*persist.CharacterRow, error) {
	m.nextID++
	c := &persist.CharacterRow{ID: m.nextID, AccountName: account, Name: name, Rig: rig, EquippedSlot: -1}
	m.rows[name] = c
	cp := *c
	return &cp, nil
}

type memInventory struct {
	slots    map[int32][]persist.SlotRow
	equipped map[int32]int16
	nextID   int32
}

func (m *memInventory) Load(_ context.Context, charID int32) ([]persist.SlotRow, error) {
	return append([]persist.SlotRow(nil), m.slots[charID]...), nil
}

func (m *memInventory) Save(_ context.Context, charID int32, filled []persist.SlotRow, equipped int16) error {
	rows := make([]persist.SlotRow, len(filled))
	for i, s := range filled {
		if s.ID == 0 {
			m.nextID++
			s.ID = m.nextID
		}
		rows[i] = s
	}
	m.slots[charID] = rows
	m.equipped[charID] = equipped
	return nil
}

const testItems = `
items:
  - {item_id: 1, name: Sword, kind: sword, prefab: sword, starter_slot: 0}
  - {item_id: 2, name: Sword2, kind: sword, prefab: sword2}
`

const testRigs = `
rigs:
  - name: humanoid
    joints:
      - {name: Root}
      - {name: Right_Hand_Attach, parent: Root, attach: true}
      - {name: Left_Hand_Attach, parent: Root, attach: true}
`

type fixture struct {
	deps  *Deps
	accts *memAccounts
	chars *memChars
	inv   *memInventory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	items, err := data.ParseItemTable([]byte(testItems))
	require.NoError(t, err)
	rigs, err := data.ParseRigTable([]byte(testRigs))
	require.NoError(t, err)

	w := ecs.NewWorld()
	oracle := replication.NewOwnerOracle()
	st := world.NewState()
	f := &fixture{
		accts: &memAccounts{rows: map[string]*persist.AccountRow{}},
		chars: &memChars{rows: map[string]*persist.CharacterRow{}},
		inv:   &memInventory{slots: map[int32][]persist.SlotRow{}, equipped: map[int32]int16{}, nextID: 100},
	}
	f.deps = &Deps{
		AccountRepo:   f.accts,
		CharRepo:      f.chars,
		InventoryRepo: f.inv,
		Config:        cfg,
		Log:           zap.NewNop(),
		ECS:           w,
		Bus:           event.NewBus(),
		World:         st,
		Oracle:        oracle,
		Gateway:       replication.NewGateway(w, oracle, &Broadcaster{World: st}, 1, zap.NewNop()),
		Items:         items,
		Rigs:          rigs,
	}
	return f
}

func newSession(t *testing.T, id uint64) *net.Session {
	t.Helper()
	a, b := gonet.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return net.NewSession(a, id, net.SessionOptions{InQueueSize: 8, OutQueueSize: 64}, zap.NewNop())
}

// sent flushes sess and returns the queued packets.
func sent(sess *net.Session) [][]byte {
	sess.FlushOutput()
	var out [][]byte
	for {
		select {
		case p := <-sess.OutQueue:
			out = append(out, p)
		default:
			return out
		}
	}
}

func reader(w *packet.Writer) *packet.Reader { return packet.NewReader(w.Bytes()) }

func login(t *testing.T, f *fixture, sess *net.Session, account, pw string) byte {
	t.Helper()
	HandleLogin(sess, reader(packet.NewWriter(packet.C_OPCODE_LOGIN).WriteS(account).WriteS(pw)), f.deps)
	for _, p := range sent(sess) {
		if p[0] == packet.S_OPCODE_LOGINRESULT {
			return p[1]
		}
	}
	t.Fatal("no login result")
	return 0
}

func enter(f *fixture, sess *net.Session, name string) {
	HandleEnterWorld(sess, reader(packet.NewWriter(packet.C_OPCODE_ENTERWORLD).WriteS(name)), f.deps)
}

func TestLogin_AutoCreateInUseAndBadPassword(t *testing.T) {
	f := newFixture(t)

	s1 := newSession(t, 1)
	assert.Equal(t, packet.LoginOK, login(t, f, s1, "Alice", "secret"))
	assert.Equal(t, packet.StateAuthenticated, s1.State())
	assert.Equal(t, "alice", s1.AccountName)
	assert.True(t, f.accts.rows["alice"].Online)

	assert.Equal(t, packet.LoginInUse, login(t, f, newSession(t, 2), "alice", "secret"))
	assert.Equal(t, packet.LoginBadPassword, login(t, f, newSession(t, 3), "alice", "wrong"))

	f.deps.Config.Account.AutoCreate = false
	assert.Equal(t, packet.LoginNoAccount, login(t, f, newSession(t, 4), "bob", "x"))
}

func TestLogin_Banned(t *testing.T) {
	f := newFixture(t)
	_, err := f.accts.Create(context.Background(), "eve", "pw", "")
	require.NoError(t, err)
	f.accts.rows["eve"].Banned = true

	s := newSession(t, 1)
	assert.Equal(t, packet.LoginBanned, login(t, f, s, "eve", "pw"))
	assert.Equal(t, packet.StateHandshake, s.State())
}

func TestLogin_ListsAccountCharacters(t *testing.T) {
	f := newFixture(t)
	f.chars.rows["Hero"] = &persist.CharacterRow{ID: 3, AccountName: "alice", Name: "Hero", Rig: "humanoid", EquippedSlot: 5}
	f.chars.rows["Alt"] = &persist.CharacterRow{ID: 4, AccountName: "alice", Name: "Alt", Rig: "humanoid", EquippedSlot: -1}
	f.chars.rows["Other"] = &persist.CharacterRow{ID: 5, AccountName: "bob", Name: "Other", Rig: "humanoid", EquippedSlot: -1}

	s := newSession(t, 1)
	HandleLogin(s, reader(packet.NewWriter(packet.C_OPCODE_LOGIN).WriteS("alice").WriteS("pw")), f.deps)
	out := sent(s)
	require.Len(t, out, 2)
	assert.Equal(t, []byte{packet.S_OPCODE_LOGINRESULT, packet.LoginOK}, out[0])

	r := packet.NewReader(out[1])
	require.Equal(t, packet.S_OPCODE_CHARLIST, r.Opcode())
	require.Equal(t, byte(2), r.ReadC())
	assert.Equal(t, "Hero", r.ReadS())
	assert.Equal(t, "humanoid", r.ReadS())
	assert.Equal(t, uint16(5), r.ReadH())
	assert.Equal(t, "Alt", r.ReadS())
	assert.Equal(t, "humanoid", r.ReadS())
	assert.Equal(t, noSlot, r.ReadH())
	require.NoError(t, r.Err())
}

func TestEnterWorld_CharacterLimit(t *testing.T) {
	f := newFixture(t)
	f.deps.Config.Account.MaxCharacters = 1
	f.chars.rows["Hero"] = &persist.CharacterRow{ID: 3, AccountName: "alice", Name: "Hero", Rig: "humanoid", EquippedSlot: -1}

	s := newSession(t, 7)
	login(t, f, s, "alice", "pw")
	enter(f, s, "Second")

	assert.Nil(t, f.deps.World.ByPeer(7))
	assert.Nil(t, f.chars.rows["Second"])
	assert.Equal(t, [][]byte{{packet.S_OPCODE_LOGINRESULT, packet.LoginCharLimit}}, sent(s))

	enter(f, s, "Hero")
	assert.NotNil(t, f.deps.World.ByPeer(7), "existing characters still enter")
}

func TestLoginLimiter_SlidingWindow(t *testing.T) {
	l := newLoginLimiter(2)
	now := time.Unix(1000, 0)
	assert.True(t, l.allow("1.2.3.4", now))
	assert.True(t, l.allow("1.2.3.4", now.Add(time.Second)))
	assert.False(t, l.allow("1.2.3.4", now.Add(2*time.Second)))
	assert.True(t, l.allow("5.6.7.8", now), "per ip")
	assert.True(t, l.allow("1.2.3.4", now.Add(61*time.Second)), "window slid")
}

func TestEnterWorld_NewCharacterGetsStarterItems(t *testing.T) {
	f := newFixture(t)
	var spawned []*world.Avatar
	event.Subscribe(f.deps.Bus, func(e world.AvatarSpawned) { spawned = append(spawned, e.Avatar) })

	s := newSession(t, 7)
	require.Equal(t, packet.LoginOK, login(t, f, s, "alice", "pw"))
	enter(f, s, "Hero")

	a := f.deps.World.ByPeer(7)
	require.NotNil(t, a)
	require.Len(t, spawned, 1)
	assert.Same(t, a, spawned[0])
	assert.Equal(t, packet.StateInWorld, s.State())
	assert.Equal(t, "humanoid", a.Rig)
	assert.Equal(t, 2, a.Attachments.Len())
	assert.True(t, f.deps.Oracle.HasAuthority(7, a.ID))

	slot0, err := a.Inv.Slot(0)
	require.NoError(t, err)
	require.NotNil(t, slot0.Item)
	assert.Equal(t, "Sword", slot0.Item.Name)
	assert.NotZero(t, slot0.Item.ObjectID)
	assert.Equal(t, world.NoSlot, a.Inv.Equipped())

	out := sent(s)
	require.Len(t, out, 2)
	assert.Equal(t, packet.S_OPCODE_AVATAR, out[0][0])
	assert.Equal(t, packet.S_OPCODE_INVENTORY, out[1][0])
}

func TestEnterWorld_RestoresEquippedSlot(t *testing.T) {
	f := newFixture(t)
	f.chars.rows["Hero"] = &persist.CharacterRow{ID: 3, AccountName: "alice", Name: "Hero", Rig: "humanoid", EquippedSlot: 5}
	f.inv.slots[3] = []persist.SlotRow{
		{ID: 11, SlotIndex: 0, ItemID: 1},
		{ID: 12, SlotIndex: 5, ItemID: 2},
		{ID: 13, SlotIndex: 6, ItemID: 999},
	}
	var reqs []world.ItemEquipRequested
	event.Subscribe(f.deps.Bus, func(e world.ItemEquipRequested) { reqs = append(reqs, e) })

	s := newSession(t, 7)
	login(t, f, s, "alice", "pw")
	enter(f, s, "Hero")

	a := f.deps.World.ByPeer(7)
	require.NotNil(t, a)
	assert.Equal(t, 5, a.Inv.Equipped())
	slot6, _ := a.Inv.Slot(6)
	assert.Nil(t, slot6.Item, "unknown item skipped")

	f.deps.Bus.SwapBuffers()
	f.deps.Bus.DispatchAll()
	require.Len(t, reqs, 1)
	assert.Equal(t, 5, reqs[0].Slot)
	assert.Equal(t, "Sword2", reqs[0].Item.Name)
	assert.Equal(t, int32(12), reqs[0].Item.ObjectID)
	assert.Equal(t, world.PeerID(7), reqs[0].Peer)
}

func TestEnterWorld_RejectsForeignCharacter(t *testing.T) {
	f := newFixture(t)
	f.chars.rows["Hero"] = &persist.CharacterRow{ID: 3, AccountName: "bob", Name: "Hero", Rig: "humanoid", EquippedSlot: -1}

	s := newSession(t, 7)
	login(t, f, s, "alice", "pw")
	enter(f, s, "Hero")

	assert.Nil(t, f.deps.World.ByPeer(7))
	assert.Equal(t, packet.StateAuthenticated, s.State())
	out := sent(s)
	require.Len(t, out, 1)
	assert.Equal(t, []byte{packet.S_OPCODE_LOGINRESULT, packet.LoginNoAccount}, out[0])
}

func TestToggleSlot_EmitsAndRejectsEmpty(t *testing.T) {
	f := newFixture(t)
	s := newSession(t, 7)
	login(t, f, s, "alice", "pw")
	enter(f, s, "Hero")
	sent(s)

	var reqs []world.ItemEquipRequested
	var unreqs []world.ItemUnequipRequested
	event.Subscribe(f.deps.Bus, func(e world.ItemEquipRequested) { reqs = append(reqs, e) })
	event.Subscribe(f.deps.Bus, func(e world.ItemUnequipRequested) { unreqs = append(unreqs, e) })

	HandleToggleSlot(s, reader(packet.NewWriter(packet.C_OPCODE_TOGGLESLOT).WriteH(0)), f.deps)
	HandleToggleSlot(s, reader(packet.NewWriter(packet.C_OPCODE_TOGGLESLOT).WriteH(0)), f.deps)
	f.deps.Bus.SwapBuffers()
	f.deps.Bus.DispatchAll()
	require.Len(t, reqs, 1)
	require.Len(t, unreqs, 1)
	assert.Equal(t, 0, unreqs[0].Slot)

	HandleToggleSlot(s, reader(packet.NewWriter(packet.C_OPCODE_TOGGLESLOT).WriteH(3)), f.deps)
	out := sent(s)
	require.Len(t, out, 1)
	r := packet.NewReader(out[0])
	assert.Equal(t, packet.S_OPCODE_EQUIPRESULT, r.Opcode())
	assert.Equal(t, packet.EquipRejected, r.ReadC())
	assert.Equal(t, uint16(3), r.ReadH())
	assert.Equal(t, "empty slot", r.ReadS())
}

func TestLeaveWorld_SavesAndReleases(t *testing.T) {
	f := newFixture(t)
	var despawned int
	event.Subscribe(f.deps.Bus, func(world.AvatarDespawned) { despawned++ })

	s := newSession(t, 7)
	login(t, f, s, "alice", "pw")
	enter(f, s, "Hero")
	a := f.deps.World.ByPeer(7)
	require.NotNil(t, a)
	require.NoError(t, a.Inv.EquipSlot(0))

	LeaveWorld(s, f.deps)

	assert.Equal(t, 1, despawned)
	assert.Nil(t, f.deps.World.ByPeer(7))
	assert.False(t, f.deps.Oracle.HasAuthority(7, a.ID))
	assert.False(t, f.accts.rows["alice"].Online)
	charID := f.chars.rows["Hero"].ID
	assert.Equal(t, int16(0), f.inv.equipped[charID])
	require.Len(t, f.inv.slots[charID], 1)
	assert.Equal(t, a.Inv.Slots()[0].Item.ObjectID, f.inv.slots[charID][0].ID)
}

func TestBroadcaster_SendsToEveryAvatar(t *testing.T) {
	f := newFixture(t)
	s1, s2 := newSession(t, 1), newSession(t, 2)
	login(t, f, s1, "alice", "pw")
	login(t, f, s2, "bob", "pw")
	enter(f, s1, "Hero")
	enter(f, s2, "Villain")
	sent(s1)
	sent(s2)

	b := &Broadcaster{World: f.deps.World}
	b.Replicate(replication.Message{Kind: replication.KindParent, Object: 9, Avatar: 4, Node: "Right_Hand_Attach"})

	for _, s := range []*net.Session{s1, s2} {
		out := sent(s)
		require.Len(t, out, 1)
		r := packet.NewReader(out[0])
		assert.Equal(t, packet.S_OPCODE_OBJECT_PARENT, r.Opcode())
		assert.Equal(t, uint64(9), r.ReadQ())
		assert.Equal(t, uint64(4), r.ReadQ())
		assert.Equal(t, "Right_Hand_Attach", r.ReadS())
	}
}
