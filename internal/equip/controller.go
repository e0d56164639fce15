// Package equip turns equip/unequip requests into replicated, authoritative
// attachments on an avatar's skeleton.
//
// A Controller runs on the game loop goroutine and is stepped once per tick.
// Each Equip starts a Flow, an explicit state machine that suspends in two
// places only: waiting for the gateway to confirm the spawn, and waiting one
// tick for the attach to be replicated. A new Equip or Unequip cancels the
// in-flight flow; the cancelled flow unwinds on the next tick and despawns
// whatever it created.
package equip

import (
	"context"
	"fmt"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/core/event"
	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
)

// NodeResolver looks up attachment nodes by name. *world.AttachmentRegistry
// implements it.
type NodeResolver interface {
	Resolve(name string) (*world.AttachmentNode, error)
}

// Request is one equip operation. An empty Node uses Options.DefaultNode.
// Seq is echoed in EquipFailed.
type Request struct {
	Slot int
	Seq  uint64
	Item world.ItemRef
	Node string
}

// Options tune a Controller.
type Options struct {
	DefaultNode string
	// SpawnTimeoutTicks abandons a spawn that is not confirmed in time.
	// 0 waits forever.
	SpawnTimeoutTicks int
	// OnTransition is called on every controller state change.
	OnTransition func(from, to State)
}

// Flow is one in-flight equip.
type Flow struct {
	id      uint64
	req     Request
	node    *world.AttachmentNode
	ctx     context.Context
	cancel  context.CancelFunc
	step    State
	pending replication.PendingSpawn
	entity  replication.Attachable
	ticks   int  // ticks spent in Spawning
	waited  bool // replication grace tick used
	done    bool
	err     error
}

func (f *Flow) ID() uint64                     { return f.id }
func (f *Flow) Request() Request               { return f.req }
func (f *Flow) State() State                   { return f.step }
func (f *Flow) Done() bool                     { return f.done }
func (f *Flow) Err() error                     { return f.err }
func (f *Flow) Entity() replication.Attachable { return f.entity }
func (f *Flow) Context() context.Context       { return f.ctx }
func (f *Flow) Node() *world.AttachmentNode    { return f.node }

// Controller is the EquipController of one avatar.
type Controller struct {
	avatar ecs.EntityID
	nodes  NodeResolver
	gw     replication.Gateway
	oracle replication.AuthorityOracle
	bus    *event.Bus
	opts   Options
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state    State
	active   *Flow
	draining []*Flow
	nextFlow uint64

	// equipped record; slot is NoSlot iff entity is nil
	entity replication.Attachable
	slot   int
	item   world.ItemRef
	node   *world.AttachmentNode
}

// NewController binds a controller to avatar. Cancelling ctx unwinds any
// in-flight flow on the next Tick and refuses new equips.
func NewController(
	ctx context.Context,
	avatar ecs.EntityID,
	nodes NodeResolver,
	gw replication.Gateway,
	oracle replication.AuthorityOracle,
	bus *event.Bus,
	opts Options,
	log *zap.Logger,
) *Controller {
	cctx, cancel := context.WithCancel(ctx)
	return &Controller{
		avatar: avatar,
		nodes:  nodes,
		gw:     gw,
		oracle: oracle,
		bus:    bus,
		opts:   opts,
		log:    log.With(zap.Stringer("avatar", avatar)),
		ctx:    cctx,
		cancel: cancel,
		slot:   world.NoSlot,
	}
}

func (c *Controller) Avatar() ecs.EntityID { return c.avatar }

func (c *Controller) State() State { return c.state }

// Active returns the in-flight flow, or nil.
func (c *Controller) Active() *Flow { return c.active }

// Equipped returns the equipped slot and entity (NoSlot, nil when idle).
func (c *Controller) Equipped() (int, replication.Attachable) { return c.slot, c.entity }

// EquippedItem returns the item and node of the current attachment.
func (c *Controller) EquippedItem() (world.ItemRef, *world.AttachmentNode) { return c.item, c.node }

// Busy reports whether cancelled flows are still waiting to unwind.
func (c *Controller) Busy() bool { return c.active != nil || len(c.draining) > 0 }

// Equip starts equipping req for peer. Errors returned here leave the
// equipped state as it was, except that an in-flight flow is cancelled.
// Later failures are reported through the flow and an EquipFailed event.
func (c *Controller) Equip(peer world.PeerID, req Request) (*Flow, error) {
	if !c.oracle.HasAuthority(peer, c.avatar) {
		return nil, fmt.Errorf("equip slot %d by peer %d: %w", req.Slot, peer, ErrNotOwner)
	}
	if c.ctx.Err() != nil {
		return nil, fmt.Errorf("equip slot %d: %w", req.Slot, ErrAvatarDespawned)
	}
	if req.Slot < 0 {
		return nil, fmt.Errorf("equip slot %d: %w", req.Slot, ErrInvalidSlot)
	}
	c.cancelActive()

	name := req.Node
	if name == "" {
		name = c.opts.DefaultNode
	}
	node, err := c.nodes.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("equip %q on %q: %w", req.Item.Name, name, err)
	}
	req.Node = name

	if c.entity != nil {
		c.unequip()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.nextFlow++
	f := &Flow{
		id:     c.nextFlow,
		req:    req,
		node:   node,
		ctx:    ctx,
		cancel: cancel,
		step:   Spawning,
	}
	f.pending = c.gw.SpawnOwnedBy(req.Item.Prefab, peer)
	c.active = f
	c.setState(Spawning)
	c.log.Debug("equip started",
		zap.Uint64("flow", f.id),
		zap.Int("slot", req.Slot),
		zap.String("item", req.Item.Name),
		zap.String("node", name),
	)
	return f, nil
}

// Unequip detaches and despawns the equipped entity. Nothing equipped is a
// no-op; an in-flight equip is cancelled either way.
func (c *Controller) Unequip(peer world.PeerID) error {
	if !c.oracle.HasAuthority(peer, c.avatar) {
		return fmt.Errorf("unequip by peer %d: %w", peer, ErrNotOwner)
	}
	c.cancelActive()
	if c.entity == nil {
		return nil
	}
	c.unequip()
	return nil
}

// Tick unwinds cancelled flows, then advances the active one.
func (c *Controller) Tick() {
	c.drain()
	if f := c.active; f != nil {
		c.step(f)
	}
}

// OnAvatarDespawn tears everything down immediately: in-flight flows are
// unwound, the equipped entity is detached and despawned, and the
// controller refuses further equips.
func (c *Controller) OnAvatarDespawn() {
	c.cancel()
	c.cancelActive()
	c.drain()
	if c.entity != nil {
		c.unequip()
	}
	c.setState(Idle)
}

func (c *Controller) step(f *Flow) {
	if f.ctx.Err() != nil {
		c.active = nil
		c.unwind(f)
		c.settle()
		return
	}

	switch f.step {
	case Spawning:
		obj, ok := f.pending.Spawned()
		if !ok {
			f.ticks++
			if c.opts.SpawnTimeoutTicks > 0 && f.ticks >= c.opts.SpawnTimeoutTicks {
				c.fail(f, fmt.Errorf("%s after %d ticks: %w", f.req.Item.Prefab, f.ticks, ErrSpawnTimeout))
			}
			return
		}
		f.entity = obj
		f.step = AwaitingAuthority
		c.setState(AwaitingAuthority)
		if !obj.HasAuthority() {
			c.fail(f, fmt.Errorf("object %s: %w", obj.ID(), ErrAuthorityLost))
			return
		}

		f.step = Attaching
		c.setState(Attaching)
		if err := obj.Attach(f.node); err != nil {
			c.fail(f, fmt.Errorf("%w: %w", ErrAttachmentFailed, err))
			return
		}

	case Attaching:
		if !f.entity.Replicated() && !f.waited {
			f.waited = true
			return
		}
		if got := f.entity.AttachedTo(); got != f.node {
			gotName := "<none>"
			if got != nil {
				gotName = got.Name
			}
			c.fail(f, fmt.Errorf("object %s on %s, want %s: %w",
				f.entity.ID(), gotName, f.node.Name, ErrAttachmentVerificationFailed))
			return
		}
		c.complete(f)
	}
}

func (c *Controller) complete(f *Flow) {
	f.step = Attached
	f.done = true
	f.cancel()
	c.active = nil

	c.entity = f.entity
	c.slot = f.req.Slot
	c.item = f.req.Item
	c.node = f.node
	c.setState(Attached)

	c.log.Debug("equipped",
		zap.Uint64("flow", f.id),
		zap.Stringer("object", f.entity.ID()),
		zap.Int("slot", f.req.Slot),
		zap.String("node", f.node.Name),
	)
	event.Emit(c.bus, world.WeaponEquipped{
		Avatar: c.avatar,
		Entity: f.entity.ID(),
		Slot:   f.req.Slot,
		Item:   f.req.Item,
		Node:   f.node.Name,
	})
}

func (c *Controller) fail(f *Flow, err error) {
	c.release(f)
	f.step = Idle
	f.done = true
	f.err = err
	f.cancel()
	if c.active == f {
		c.active = nil
	}
	c.settle()

	c.log.Warn("equip failed",
		zap.Uint64("flow", f.id),
		zap.Int("slot", f.req.Slot),
		zap.String("item", f.req.Item.Name),
		zap.Error(err),
	)
	event.Emit(c.bus, world.EquipFailed{
		Avatar: c.avatar,
		Slot:   f.req.Slot,
		Seq:    f.req.Seq,
		Item:   f.req.Item,
		Err:    err,
	})
}

// unwind cleans up a cancelled flow. Cancellation is not a failure: no
// EquipFailed is raised, the superseding request owns the outcome.
func (c *Controller) unwind(f *Flow) {
	c.release(f)
	f.step = Idle
	f.done = true
	f.err = ErrCancelled
	c.log.Debug("equip cancelled", zap.Uint64("flow", f.id), zap.Int("slot", f.req.Slot))
}

// release detaches and despawns whatever f created, or abandons its spawn.
func (c *Controller) release(f *Flow) {
	if f.entity == nil {
		if f.pending != nil {
			f.pending.Abandon()
		}
		return
	}
	if f.entity.AttachedTo() != nil && f.entity.HasAuthority() {
		if err := f.entity.Detach(); err != nil {
			c.log.Debug("detach during cleanup", zap.Error(err))
		}
	}
	c.gw.Despawn(f.entity)
}

func (c *Controller) cancelActive() {
	f := c.active
	if f == nil {
		return
	}
	f.cancel()
	c.active = nil
	c.draining = append(c.draining, f)
	c.settle()
}

func (c *Controller) drain() {
	if len(c.draining) == 0 {
		return
	}
	flows := c.draining
	c.draining = nil
	for _, f := range flows {
		c.unwind(f)
	}
}

func (c *Controller) unequip() {
	ent, slot, item := c.entity, c.slot, c.item

	c.setState(Detaching)
	if err := ent.Detach(); err != nil {
		c.log.Warn("detach failed, forcing despawn", zap.Stringer("object", ent.ID()), zap.Error(err))
	}
	c.setState(Despawning)
	c.gw.Despawn(ent)

	c.entity = nil
	c.slot = world.NoSlot
	c.item = world.ItemRef{}
	c.node = nil
	c.setState(Idle)

	c.log.Debug("unequipped", zap.Stringer("object", ent.ID()), zap.Int("slot", slot))
	event.Emit(c.bus, world.WeaponUnequipped{
		Avatar: c.avatar,
		Entity: ent.ID(),
		Slot:   slot,
		Item:   item,
	})
}

// settle sets the resting state when no flow is active.
func (c *Controller) settle() {
	if c.active != nil {
		return
	}
	if c.entity != nil {
		c.setState(Attached)
		return
	}
	c.setState(Idle)
}

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(from, to)
	}
}
