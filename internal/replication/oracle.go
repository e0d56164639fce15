package replication

import (
	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/world"
)

// OwnerOracle is the ownership table for avatars and spawned objects.
// Accessed only from the game loop goroutine.
type OwnerOracle struct {
	owners map[ecs.EntityID]world.PeerID
}

func NewOwnerOracle() *OwnerOracle {
	return &OwnerOracle{owners: make(map[ecs.EntityID]world.PeerID)}
}

// Assign records peer as the owner of id, replacing any previous owner.
func (o *OwnerOracle) Assign(id ecs.EntityID, peer world.PeerID) {
	o.owners[id] = peer
}

// Revoke drops ownership of id; nobody has authority afterwards.
func (o *OwnerOracle) Revoke(id ecs.EntityID) {
	delete(o.owners, id)
}

// Transfer moves ownership from one peer to another. Returns false when
// from is not the current owner.
func (o *OwnerOracle) Transfer(id ecs.EntityID, from, to world.PeerID) bool {
	cur, ok := o.owners[id]
	if !ok || cur != from {
		return false
	}
	o.owners[id] = to
	return true
}

// Owner returns the owner of id.
func (o *OwnerOracle) Owner(id ecs.EntityID) (world.PeerID, bool) {
	p, ok := o.owners[id]
	return p, ok
}

func (o *OwnerOracle) HasAuthority(peer world.PeerID, id ecs.EntityID) bool {
	p, ok := o.owners[id]
	return ok && p == peer
}

func (o *OwnerOracle) Len() int { return len(o.owners) }
