package replication

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/world"
	"go.uber.org/zap"
)

// ECSGateway implements Gateway on top of the ECS world. A spawn allocates
// an entity immediately but is confirmed only after confirmTicks calls to
// World.FlushSpawnQueue; despawned entities go through the world's deferred
// destroy queue. Parent changes are sent to the sink by Flush.
// All methods except AwaitSpawned run on the game loop goroutine.
type ECSGateway struct {
	world        *ecs.World
	objects      *ecs.Store[Object]
	oracle       *OwnerOracle
	sink         Sink
	confirmTicks int
	dirty        []ecs.EntityID
	inDirty      map[ecs.EntityID]struct{}
	log          *zap.Logger
}

func NewGateway(w *ecs.World, oracle *OwnerOracle, sink Sink, confirmTicks int, log *zap.Logger) *ECSGateway {
	if sink == nil {
		sink = Fanout(nil)
	}
	g := &ECSGateway{
		world:        w,
		objects:      ecs.NewStore[Object](),
		oracle:       oracle,
		sink:         sink,
		confirmTicks: confirmTicks,
		inDirty:      make(map[ecs.EntityID]struct{}),
		log:          log,
	}
	w.Registry().Register(g.objects)
	return g
}

// Oracle returns the ownership table the gateway maintains.
func (g *ECSGateway) Oracle() *OwnerOracle { return g.oracle }

type pendingSpawn struct {
	gw        *ECSGateway
	id        ecs.EntityID
	owner     world.PeerID
	prefab    string
	obj       *Object
	abandoned atomic.Bool // also read by AwaitSpawned off the game loop
	done      chan struct{}
}

func (p *pendingSpawn) Spawned() (Attachable, bool) {
	if p.obj == nil || p.abandoned.Load() {
		return nil, false
	}
	return p.gw.view(p.obj, p.owner), true
}

func (p *pendingSpawn) Abandon() {
	if p.abandoned.Swap(true) {
		return
	}
	if p.obj != nil {
		p.gw.despawn(p.obj)
		return
	}
	close(p.done)
}

func (g *ECSGateway) SpawnOwnedBy(prefab string, owner world.PeerID) PendingSpawn {
	p := &pendingSpawn{
		gw:     g,
		id:     g.world.CreateEntity(),
		owner:  owner,
		prefab: prefab,
		done:   make(chan struct{}),
	}
	g.world.QueueSpawn(p.id, g.confirmTicks, func(ecs.EntityID) { g.confirm(p) })
	g.log.Debug("spawn requested",
		zap.Stringer("object", p.id),
		zap.Uint64("owner", uint64(owner)),
		zap.String("prefab", prefab),
	)
	return p
}

func (g *ECSGateway) confirm(p *pendingSpawn) {
	if p.abandoned.Load() {
		// requester gave up; nobody ever saw this object
		g.world.MarkForDestruction(p.id)
		g.log.Debug("abandoned spawn discarded", zap.Stringer("object", p.id))
		return
	}
	obj := &Object{
		ID:        p.id,
		Owner:     p.owner,
		Prefab:    p.prefab,
		Transform: world.NewTransform(p.prefab),
	}
	g.objects.Set(p.id, obj)
	g.oracle.Assign(p.id, p.owner)
	p.obj = obj
	close(p.done)
	g.sink.Replicate(Message{Kind: KindSpawn, Object: p.id, Owner: p.owner, Prefab: p.prefab})
}

// AwaitSpawned blocks until p is confirmed. It must not be called from the
// game loop goroutine, which is the one confirming spawns.
func (g *ECSGateway) AwaitSpawned(ctx context.Context, ps PendingSpawn) (Attachable, error) {
	p, ok := ps.(*pendingSpawn)
	if !ok || p.gw != g {
		return nil, fmt.Errorf("await spawn: handle from another gateway")
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p.abandoned.Load() {
		return nil, fmt.Errorf("await spawn %s: %w", p.id, ErrSpawnAbandoned)
	}
	return g.view(p.obj, p.owner), nil
}

func (g *ECSGateway) Despawn(obj Attachable) {
	if obj == nil {
		return
	}
	o, ok := g.objects.Get(obj.ID())
	if !ok || o.despawned {
		g.log.Debug("despawn ignored",
			zap.Stringer("object", obj.ID()),
			zap.Error(ErrAlreadyDespawned),
		)
		return
	}
	g.despawn(o)
}

func (g *ECSGateway) despawn(o *Object) {
	if o.despawned {
		return
	}
	if o.node != nil {
		// server-side teardown does not need the owner's authority
		_ = o.setNode(nil)
	}
	o.despawned = true
	o.acked = o.seq
	g.oracle.Revoke(o.ID)
	g.world.MarkForDestruction(o.ID)
	g.sink.Replicate(Message{Kind: KindDespawn, Object: o.ID, Owner: o.Owner, Prefab: o.Prefab})
}

// Lookup returns the view of object id for peer.
func (g *ECSGateway) Lookup(id ecs.EntityID, peer world.PeerID) (Attachable, bool) {
	o, ok := g.objects.Get(id)
	if !ok || o.despawned {
		return nil, false
	}
	return g.view(o, peer), true
}

func (g *ECSGateway) view(o *Object, peer world.PeerID) Attachable {
	return &entity{gw: g, obj: o, peer: peer}
}

func (g *ECSGateway) markDirty(id ecs.EntityID) {
	if _, ok := g.inDirty[id]; ok {
		return
	}
	g.inDirty[id] = struct{}{}
	g.dirty = append(g.dirty, id)
}

// Flush sends a Parent message for every object whose attachment changed
// since the last flush and acknowledges the change. Called once per tick by
// the output system.
func (g *ECSGateway) Flush() {
	for _, id := range g.dirty {
		delete(g.inDirty, id)
		o, ok := g.objects.Get(id)
		if !ok || o.despawned || o.acked == o.seq {
			continue
		}
		msg := Message{Kind: KindParent, Object: id, Owner: o.Owner, Prefab: o.Prefab}
		if o.node != nil {
			msg.Avatar = o.node.Avatar
			msg.Node = o.node.Name
		}
		g.sink.Replicate(msg)
		o.acked = o.seq
	}
	g.dirty = g.dirty[:0]
}

// Snapshot returns the messages that bring a new observer up to date: a
// Spawn for every live object followed by its current parent, ordered by id.
func (g *ECSGateway) Snapshot() []Message {
	var out []Message
	for _, id := range g.objects.IDs() {
		o, _ := g.objects.Get(id)
		if o.despawned {
			continue
		}
		out = append(out, Message{Kind: KindSpawn, Object: o.ID, Owner: o.Owner, Prefab: o.Prefab})
		if o.node != nil {
			out = append(out, Message{
				Kind: KindParent, Object: o.ID, Owner: o.Owner, Prefab: o.Prefab,
				Avatar: o.node.Avatar, Node: o.node.Name,
			})
		}
	}
	return out
}

// Live returns the number of confirmed objects not yet despawned.
func (g *ECSGateway) Live() int {
	n := 0
	g.objects.Each(func(_ ecs.EntityID, o *Object) {
		if !o.despawned {
			n++
		}
	})
	return n
}
