// Package replication owns networked objects: spawning them on behalf of a
// peer, tracking which peer has authority over each one, and mirroring their
// parent changes to every observer.
package replication

import (
	"context"
	"errors"

	"github.com/l1jgo/wield/internal/core/ecs"
	"github.com/l1jgo/wield/internal/world"
)

var (
	// ErrNoAuthority is returned when a non-authoritative peer tries to
	// mutate a replicated object.
	ErrNoAuthority = errors.New("no authority over object")
	// ErrAlreadyDespawned is logged, never returned, by Despawn.
	ErrAlreadyDespawned = errors.New("object already despawned")
	// ErrSpawnAbandoned is returned by AwaitSpawned for abandoned handles.
	ErrSpawnAbandoned = errors.New("spawn abandoned")
)

// Attachable is a replicated object that can be parented under an
// attachment node. A view is bound to one peer: HasAuthority reports whether
// that peer may mutate it.
type Attachable interface {
	ID() ecs.EntityID
	HasAuthority() bool
	// Attach reparents the object under node. Attaching to the current node
	// is a successful no-op.
	Attach(node *world.AttachmentNode) error
	// Detach clears the attachment. Already detached is a no-op.
	Detach() error
	AttachedTo() *world.AttachmentNode
	// Replicated reports whether the last parent change has been flushed to
	// observers.
	Replicated() bool
}

// PendingSpawn is the handle for an object that has been requested but not
// yet confirmed by the replication layer.
type PendingSpawn interface {
	// Spawned returns the object once confirmed.
	Spawned() (Attachable, bool)
	// Abandon tells the gateway the requester no longer wants the object.
	// An object confirmed after Abandon is despawned on arrival; one that
	// is already confirmed is despawned now.
	Abandon()
}

// Gateway spawns and despawns replicated objects.
type Gateway interface {
	SpawnOwnedBy(prefab string, owner world.PeerID) PendingSpawn
	// AwaitSpawned blocks until the handle is confirmed or ctx is done.
	AwaitSpawned(ctx context.Context, p PendingSpawn) (Attachable, error)
	// Despawn removes the object. Despawning twice is logged and ignored.
	Despawn(obj Attachable)
}

// AuthorityOracle answers "does peer own entity".
type AuthorityOracle interface {
	HasAuthority(peer world.PeerID, id ecs.EntityID) bool
}

// Kind is the type of a replication message.
type Kind uint8

const (
	KindSpawn Kind = iota + 1
	KindDespawn
	KindParent
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindDespawn:
		return "despawn"
	case KindParent:
		return "parent"
	}
	return "unknown"
}

// Message is one replicated state change. For KindParent an empty Node
// means detached.
type Message struct {
	Kind   Kind
	Object ecs.EntityID
	Owner  world.PeerID
	Prefab string
	Avatar ecs.EntityID
	Node   string
}

// Sink receives replication messages. Implemented by the session broadcaster
// and the websocket observer hub.
type Sink interface {
	Replicate(msg Message)
}

// Fanout delivers each message to every sink in order.
type Fanout []Sink

func (f Fanout) Replicate(msg Message) {
	for _, s := range f {
		s.Replicate(msg)
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Message)

func (fn SinkFunc) Replicate(msg Message) { fn(msg) }
