package replication

import (
	"fmt"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/world"
)

// Object is the server-side record of a replicated object, stored as an ECS
// component on its entity.
type Object struct {
	ID        ecs.EntityID
	Owner     world.PeerID
	Prefab    string
	Transform *world.Transform

	node      *world.AttachmentNode
	seq       uint64 // bumped on every parent change
	acked     uint64 // last seq flushed to observers
	despawned bool
}

// Node returns the node the object is parented under, or nil.
func (o *Object) Node() *world.AttachmentNode { return o.node }

func (o *Object) Despawned() bool { return o.despawned }

func (o *Object) setNode(n *world.AttachmentNode) error {
	var parent *world.Transform
	if n != nil {
		parent = n.Transform
	}
	if err := o.Transform.SetParent(parent); err != nil {
		return err
	}
	o.node = n
	o.seq++
	return nil
}

// entity is the Attachable view of an Object for one peer.
type entity struct {
	gw   *ECSGateway
	obj  *Object
	peer world.PeerID
}

func (e *entity) ID() ecs.EntityID { return e.obj.ID }

func (e *entity) HasAuthority() bool {
	return !e.obj.despawned && e.gw.oracle.HasAuthority(e.peer, e.obj.ID)
}

func (e *entity) Attach(node *world.AttachmentNode) error {
	if !e.HasAuthority() {
		return fmt.Errorf("attach %s: %w", e.obj.ID, ErrNoAuthority)
	}
	if node == nil {
		return fmt.Errorf("attach %s: nil node", e.obj.ID)
	}
	if e.obj.node == node {
		return nil
	}
	if err := e.obj.setNode(node); err != nil {
		return fmt.Errorf("attach %s to %s: %w", e.obj.ID, node.Name, err)
	}
	e.gw.markDirty(e.obj.ID)
	return nil
}

func (e *entity) Detach() error {
	if !e.HasAuthority() {
		return fmt.Errorf("detach %s: %w", e.obj.ID, ErrNoAuthority)
	}
	if e.obj.node == nil {
		return nil
	}
	if err := e.obj.setNode(nil); err != nil {
		return fmt.Errorf("detach %s: %w", e.obj.ID, err)
	}
	e.gw.markDirty(e.obj.ID)
	return nil
}

func (e *entity) AttachedTo() *world.AttachmentNode { return e.obj.node }

func (e *entity) Replicated() bool { return e.obj.acked == e.obj.seq }
