package system

import (
	"time"

	coresys "github.com/l1jgo/wield/internal/core/system"
	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/replication"
)

// Pumper is run once per tick on the game loop. *observer.Hub implements it.
type Pumper interface {
	Pump()
}

// OutputSystem replicates this tick's attachment changes, then flushes every
// session's buffered packets to its writer goroutine. Phase 4 (Output).
type OutputSystem struct {
	gateway *replication.ECSGateway
	hub     Pumper // nil when the observer feed is disabled
	store   *net.SessionStore
}

func NewOutputSystem(gateway *replication.ECSGateway, hub Pumper, store *net.SessionStore) *OutputSystem {
	return &OutputSystem{gateway: gateway, hub: hub, store: store}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.gateway.Flush()
	if s.hub != nil {
		s.hub.Pump()
	}
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}
