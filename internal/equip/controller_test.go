package equip

import (
	"context"
	"errors"
	"testing"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const owner world.PeerID = 7

var (
	sword  = world.ItemRef{ObjectID: 100, ItemID: 1, Name: "Sword", Kind: "sword", Prefab: "sword"}
	sword2 = world.ItemRef{ObjectID: 105, ItemID: 2, Name: "Sword2", Kind: "sword", Prefab: "sword2"}
)

type capture struct{ msgs []replication.Message }

func (c *capture) Replicate(m replication.Message) { c.msgs = append(c.msgs, m) }

func (c *capture) count(k replication.Kind, prefab string) int {
	n := 0
	for _, m := range c.msgs {
		if m.Kind == k && (prefab == "" || m.Prefab == prefab) {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	stop   context.CancelFunc
	w      *ecs.World
	oracle *replication.OwnerOracle
	gw     *replication.ECSGateway
	sink   *capture
	bus    *event.Bus
	reg    *world.AttachmentRegistry
	avatar ecs.EntityID
	ctrl   *Controller

	equipped    []world.WeaponEquipped
	unequipped  []world.WeaponUnequipped
	failed      []world.EquipFailed
	transitions []State
	maxAttached int
}

func rig(t *testing.T) *world.Transform {
	t.Helper()
	root, err := world.BuildSkeleton([]world.JointSpec{
		{Name: "Root"},
		{Name: "Spine", Parent: "Root"},
		{Name: "Right_Hand_Attach", Parent: "Spine", Attach: true},
		{Name: "Left_Hand_Attach", Parent: "Spine", Attach: true},
	})
	require.NoError(t, err)
	return root
}

func newHarness(t *testing.T, confirmTicks int, opts Options) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{t: t, w: ecs.NewWorld(), sink: &capture{}, bus: event.NewBus()}
	h.ctx, h.stop = context.WithCancel(context.Background())
	t.Cleanup(h.stop)
	h.oracle = replication.NewOwnerOracle()
	h.gw = replication.NewGateway(h.w, h.oracle, h.sink, confirmTicks, log)
	h.avatar = h.w.CreateEntity()
	h.oracle.Assign(h.avatar, owner)
	h.reg = world.BuildAttachmentRegistry(h.avatar, rig(t), log)

	if opts.DefaultNode == "" {
		opts.DefaultNode = "Right_Hand_Attach"
	}
	next := opts.OnTransition
	opts.OnTransition = func(from, to State) {
		h.transitions = append(h.transitions, to)
		if next != nil {
			next(from, to)
		}
	}
	h.ctrl = NewController(h.ctx, h.avatar, h.reg, h.gw, h.oracle, h.bus, opts, log)

	event.Subscribe(h.bus, func(e world.WeaponEquipped) { h.equipped = append(h.equipped, e) })
	event.Subscribe(h.bus, func(e world.WeaponUnequipped) { h.unequipped = append(h.unequipped, e) })
	event.Subscribe(h.bus, func(e world.EquipFailed) { h.failed = append(h.failed, e) })
	return h
}

// tick runs one server tick in pipeline order.
func (h *harness) tick() {
	h.ctrl.Tick()
	h.observe()
	h.w.FlushSpawnQueue()
	h.gw.Flush()
	h.bus.SwapBuffers()
	h.bus.DispatchAll()
	h.w.FlushDestroyQueue()
	h.observe()
}

func (h *harness) run(n int) {
	for i := 0; i < n; i++ {
		h.tick()
	}
}

// settle ticks until no flow is in flight.
func (h *harness) settle() {
	h.t.Helper()
	for i := 0; i < 20; i++ {
		h.tick()
		if !h.ctrl.Busy() {
			h.tick() // deliver events raised on the last step
			return
		}
	}
	h.t.Fatal("controller never settled")
}

func (h *harness) attached() int {
	n := 0
	for _, name := range h.reg.Names() {
		node, _ := h.reg.Resolve(name)
		n += len(node.Transform.Children())
	}
	return n
}

func (h *harness) observe() {
	if n := h.attached(); n > h.maxAttached {
		h.maxAttached = n
	}
}

func (h *harness) spawnedID(prefab string) ecs.EntityID {
	h.t.Helper()
	for _, m := range h.sink.msgs {
		if m.Kind == replication.KindSpawn && m.Prefab == prefab {
			return m.Object
		}
	}
	h.t.Fatalf("no spawn for %s", prefab)
	return 0
}

func TestEquip_AttachesToNode(t *testing.T) {
	h := newHarness(t, 1, Options{})
	f, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	assert.Equal(t, Spawning, h.ctrl.State())

	h.settle()
	require.True(t, f.Done())
	require.NoError(t, f.Err())
	assert.Equal(t, Attached, h.ctrl.State())
	assert.Equal(t, []State{Spawning, AwaitingAuthority, Attaching, Attached}, h.transitions)

	slot, ent := h.ctrl.Equipped()
	assert.Equal(t, 0, slot)
	require.NotNil(t, ent)
	assert.Equal(t, "Right_Hand_Attach", ent.AttachedTo().Name)
	assert.Equal(t, 1, h.attached())

	require.Len(t, h.equipped, 1)
	assert.Equal(t, world.WeaponEquipped{
		Avatar: h.avatar, Entity: ent.ID(), Slot: 0, Item: sword, Node: "Right_Hand_Attach",
	}, h.equipped[0])
	assert.Equal(t, 1, h.sink.count(replication.KindParent, "sword"))
}

func TestEquip_ExplicitNode(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(owner, Request{Slot: 2, Item: sword, Node: "Left_Hand_Attach"})
	require.NoError(t, err)
	h.settle()

	item, node := h.ctrl.EquippedItem()
	assert.Equal(t, "Sword", item.Name)
	assert.Equal(t, "Left_Hand_Attach", node.Name)
}

func TestUnequip_NothingEquippedIsNoop(t *testing.T) {
	h := newHarness(t, 1, Options{})
	require.NoError(t, h.ctrl.Unequip(owner))
	h.run(2)
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Empty(t, h.transitions)
	assert.Empty(t, h.unequipped)
	assert.Empty(t, h.sink.msgs)
}

func TestUnequip_DetachesAndDespawns(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.settle()
	_, ent := h.ctrl.Equipped()
	h.transitions = nil

	require.NoError(t, h.ctrl.Unequip(owner))
	assert.Equal(t, []State{Detaching, Despawning, Idle}, h.transitions)
	slot, cur := h.ctrl.Equipped()
	assert.Equal(t, world.NoSlot, slot)
	assert.Nil(t, cur)
	assert.Zero(t, h.attached())

	h.tick()
	require.Len(t, h.unequipped, 1)
	assert.Equal(t, world.WeaponUnequipped{Avatar: h.avatar, Entity: ent.ID(), Slot: 0, Item: sword}, h.unequipped[0])
	assert.Equal(t, 1, h.sink.count(replication.KindDespawn, "sword"))
	assert.False(t, h.w.Alive(ent.ID()))
}

func TestEquip_NonOwnerRejected(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(9, Request{Slot: 0, Item: sword})
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Zero(t, h.w.PendingSpawns())
	assert.Equal(t, Idle, h.ctrl.State())

	_, err = h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.settle()

	assert.ErrorIs(t, h.ctrl.Unequip(9), ErrNotOwner)
	_, err = h.ctrl.Equip(9, Request{Slot: 5, Item: sword2})
	assert.ErrorIs(t, err, ErrNotOwner)
	h.run(3)

	slot, ent := h.ctrl.Equipped()
	assert.Equal(t, 0, slot)
	assert.NotNil(t, ent)
	assert.Equal(t, Attached, h.ctrl.State())
	assert.Empty(t, h.unequipped)
}

func TestEquip_NegativeSlotRejected(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(owner, Request{Slot: world.NoSlot, Item: sword})
	assert.ErrorIs(t, err, ErrInvalidSlot)
	assert.Zero(t, h.w.PendingSpawns())
	h.run(2)

	slot, ent := h.ctrl.Equipped()
	assert.Equal(t, world.NoSlot, slot)
	assert.Nil(t, ent)
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestEquip_UnknownNodeLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.settle()
	_, before := h.ctrl.Equipped()

	_, err = h.ctrl.Equip(owner, Request{Slot: 5, Item: sword2, Node: "NoSuchNode"})
	assert.ErrorIs(t, err, ErrAttachmentNodeNotFound)
	h.run(3)

	slot, after := h.ctrl.Equipped()
	assert.Equal(t, 0, slot)
	assert.Equal(t, before.ID(), after.ID())
	assert.Equal(t, Attached, h.ctrl.State())
	assert.Zero(t, h.sink.count(replication.KindSpawn, "sword2"))
}

func TestEquip_SupersededBeforeSpawn(t *testing.T) {
	h := newHarness(t, 2, Options{})
	a, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	b, err := h.ctrl.Equip(owner, Request{Slot: 5, Item: sword2})
	require.NoError(t, err)
	h.settle()

	assert.ErrorIs(t, a.Err(), ErrCancelled)
	require.NoError(t, b.Err())
	assert.Zero(t, h.sink.count(replication.KindSpawn, "sword"), "abandoned before it arrived")
	assert.Equal(t, 1, h.attached())
	assert.Equal(t, 1, h.maxAttached)
	assert.Empty(t, h.failed, "cancellation is not a failure")
	require.Len(t, h.equipped, 1)
	assert.Equal(t, 5, h.equipped[0].Slot)
}

func TestEquip_SupersededAfterSpawn(t *testing.T) {
	h := newHarness(t, 1, Options{})
	a, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.tick() // A confirmed, not yet stepped

	_, err = h.ctrl.Equip(owner, Request{Slot: 5, Item: sword2})
	require.NoError(t, err)
	h.settle()

	assert.ErrorIs(t, a.Err(), ErrCancelled)
	idA := h.spawnedID("sword")
	assert.Equal(t, 1, h.sink.count(replication.KindDespawn, "sword"))
	assert.False(t, h.w.Alive(idA))
	assert.Equal(t, 1, h.attached())
	assert.Equal(t, 1, h.maxAttached)
	_, ent := h.ctrl.Equipped()
	assert.Equal(t, h.spawnedID("sword2"), ent.ID())
}

func TestEquip_SupersededWhileAwaitingReplication(t *testing.T) {
	h := newHarness(t, 1, Options{})
	a, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.tick()
	h.tick() // A attached, waiting for verification
	require.Equal(t, Attaching, h.ctrl.State())
	require.Equal(t, 1, h.attached())

	_, err = h.ctrl.Equip(owner, Request{Slot: 5, Item: sword2})
	require.NoError(t, err)
	h.settle()

	assert.ErrorIs(t, a.Err(), ErrCancelled)
	assert.Equal(t, 1, h.sink.count(replication.KindDespawn, "sword"))
	assert.Equal(t, 1, h.attached())
	assert.Equal(t, 1, h.maxAttached)
	require.Len(t, h.equipped, 1)
	assert.Equal(t, "Sword2", h.equipped[0].Item.Name)
}

func TestEquip_SlotSwitchScenario(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.settle()
	_, first := h.ctrl.Equipped()
	assert.Equal(t, "Right_Hand_Attach", first.AttachedTo().Name)

	_, err = h.ctrl.Equip(owner, Request{Slot: 5, Item: sword2})
	require.NoError(t, err)
	assert.Zero(t, h.attached(), "previous item is unequipped before the spawn")
	h.settle()

	slot, second := h.ctrl.Equipped()
	assert.Equal(t, 5, slot)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.False(t, h.w.Alive(first.ID()))
	assert.Equal(t, 1, h.attached())
	assert.Equal(t, 1, h.maxAttached)
	require.Len(t, h.unequipped, 1)
	assert.Equal(t, 0, h.unequipped[0].Slot)
}

func TestEquip_SameItemAgainRespawns(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.settle()
	_, first := h.ctrl.Equipped()

	_, err = h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.settle()

	_, second := h.ctrl.Equipped()
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, h.sink.count(replication.KindSpawn, "sword"))
	assert.Len(t, h.equipped, 2)
	assert.Len(t, h.unequipped, 1)
}

func TestOnAvatarDespawn_WhileAttached(t *testing.T) {
	h := newHarness(t, 1, Options{})
	_, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.settle()
	_, ent := h.ctrl.Equipped()

	h.ctrl.OnAvatarDespawn()
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Zero(t, h.attached())
	h.ctrl.OnAvatarDespawn()
	h.run(2)

	assert.Equal(t, 1, h.sink.count(replication.KindDespawn, "sword"), "despawned exactly once")
	assert.False(t, h.w.Alive(ent.ID()))

	_, err = h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	assert.ErrorIs(t, err, ErrAvatarDespawned)
}

func TestOnAvatarDespawn_WhileSpawning(t *testing.T) {
	h := newHarness(t, 2, Options{})
	f, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.tick()

	h.ctrl.OnAvatarDespawn()
	assert.ErrorIs(t, f.Err(), ErrCancelled)
	assert.Equal(t, Idle, h.ctrl.State())
	h.run(3)
	assert.Zero(t, h.sink.count(replication.KindSpawn, ""))
	assert.Empty(t, h.failed)
	assert.Equal(t, 1, h.w.Pool().Live(), "only the avatar is left")
}

func TestEquip_ContextCancelledUnwinds(t *testing.T) {
	h := newHarness(t, 2, Options{})
	f, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.stop()
	h.run(3)

	assert.ErrorIs(t, f.Err(), ErrCancelled)
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Zero(t, h.sink.count(replication.KindSpawn, ""))

	_, err = h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	assert.ErrorIs(t, err, ErrAvatarDespawned)
}

func TestEquip_AuthorityLost(t *testing.T) {
	h := newHarness(t, 1, Options{})
	f, err := h.ctrl.Equip(owner, Request{Slot: 0, Seq: 4, Item: sword})
	require.NoError(t, err)
	h.tick()
	h.oracle.Revoke(h.spawnedID("sword"))
	h.settle()

	assert.ErrorIs(t, f.Err(), ErrAuthorityLost)
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Equal(t, 1, h.sink.count(replication.KindDespawn, "sword"))
	require.Len(t, h.failed, 1)
	assert.ErrorIs(t, h.failed[0].Err, ErrAuthorityLost)
	assert.Equal(t, 0, h.failed[0].Slot)
	assert.Equal(t, uint64(4), h.failed[0].Seq)
	assert.Zero(t, h.attached())
}

func TestEquip_SpawnTimeout(t *testing.T) {
	h := newHarness(t, 10, Options{SpawnTimeoutTicks: 3})
	f, err := h.ctrl.Equip(owner, Request{Slot: 0, Item: sword})
	require.NoError(t, err)
	h.run(3)

	assert.ErrorIs(t, f.Err(), ErrSpawnTimeout)
	assert.Equal(t, Idle, h.ctrl.State())
	h.run(10)
	assert.Zero(t, h.sink.count(replication.KindSpawn, ""))
	require.Len(t, h.failed, 1)
}

// fakes for failure paths the ECS gateway cannot produce

type fakeEntity struct {
	id        ecs.EntityID
	attachErr error
	misplace  bool
	node      *world.AttachmentNode
}

func (e *fakeEntity) ID() ecs.EntityID   { return e.id }
func (e *fakeEntity) HasAuthority() bool { return true }
func (e *fakeEntity) Attach(n *world.AttachmentNode) error {
	if e.attachErr != nil {
		return e.attachErr
	}
	if !e.misplace {
		e.node = n
	}
	return nil
}
func (e *fakeEntity) Detach() error                     { e.node = nil; return nil }
func (e *fakeEntity) AttachedTo() *world.AttachmentNode { return e.node }
func (e *fakeEntity) Replicated() bool                  { return true }

type fakePending struct{ obj *fakeEntity }

func (p *fakePending) Spawned() (replication.Attachable, bool) { return p.obj, true }
func (p *fakePending) Abandon()                                {}

type fakeGateway struct {
	next      *fakeEntity
	despawned []ecs.EntityID
}

func (g *fakeGateway) SpawnOwnedBy(string, world.PeerID) replication.PendingSpawn {
	return &fakePending{obj: g.next}
}

func (g *fakeGateway) AwaitSpawned(context.Context, replication.PendingSpawn) (replication.Attachable, error) {
	return g.next, nil
}

func (g *fakeGateway) Despawn(obj replication.Attachable) {
	g.despawned = append(g.despawned, obj.ID())
}

func fakeController(t *testing.T, gw *fakeGateway) (*Controller, *event.Bus) {
	oracle := replication.NewOwnerOracle()
	avatar := ecs.NewEntityID(1, 0)
	oracle.Assign(avatar, owner)
	bus := event.NewBus()
	reg := world.BuildAttachmentRegistry(avatar, rig(t), zap.NewNop())
	ctrl := NewController(context.Background(), avatar, reg, gw, oracle, bus,
		Options{DefaultNode: "Right_Hand_Attach"}, zap.NewNop())
	return ctrl, bus
}

func TestEquip_AttachFailure(t *testing.T) {
	boom := errors.New("joint locked")
	gw := &fakeGateway{next: &fakeEntity{id: ecs.NewEntityID(9, 0), attachErr: boom}}
	ctrl, bus := fakeController(t, gw)
	var failed []world.EquipFailed
	event.Subscribe(bus, func(e world.EquipFailed) { failed = append(failed, e) })

	f, err := ctrl.Equip(owner, Request{Slot: 1, Item: sword})
	require.NoError(t, err)
	ctrl.Tick()
	bus.SwapBuffers()
	bus.DispatchAll()

	assert.ErrorIs(t, f.Err(), ErrAttachmentFailed)
	assert.ErrorIs(t, f.Err(), boom)
	assert.Equal(t, []ecs.EntityID{ecs.NewEntityID(9, 0)}, gw.despawned)
	assert.Equal(t, Idle, ctrl.State())
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Slot)
}

func TestEquip_VerificationFailure(t *testing.T) {
	gw := &fakeGateway{next: &fakeEntity{id: ecs.NewEntityID(9, 0), misplace: true}}
	ctrl, _ := fakeController(t, gw)

	f, err := ctrl.Equip(owner, Request{Slot: 1, Item: sword})
	require.NoError(t, err)
	ctrl.Tick()
	assert.Equal(t, Attaching, ctrl.State())
	ctrl.Tick()

	assert.ErrorIs(t, f.Err(), ErrAttachmentVerificationFailed)
	assert.Len(t, gw.despawned, 1)
	slot, ent := ctrl.Equipped()
	assert.Equal(t, world.NoSlot, slot)
	assert.Nil(t, ent)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_authority", AwaitingAuthority.String())
	assert.Equal(t, "unknown", State(99).String())
}
