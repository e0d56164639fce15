package handler

import (
	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/world"
)

// Broadcaster sends replication messages to every in-world session.
type Broadcaster struct {
	World *world.State
}

func (b *Broadcaster) Replicate(m replication.Message) {
	data := ReplicationPacket(m)
	if data == nil {
		return
	}
	b.World.Each(func(a *world.Avatar) {
		a.Send(data)
	})
}
