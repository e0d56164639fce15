package system

import (
	"time"

	"github.com/l1jgo/wield/internal/core/event"
	coresys "github.com/l1jgo/wield/internal/core/system"
)

// DispatchSystem delivers the events emitted during the previous tick.
// Phase 1 (PreUpdate).
type DispatchSystem struct {
	bus *event.Bus
}

func NewDispatchSystem(bus *event.Bus) *DispatchSystem {
	return &DispatchSystem{bus: bus}
}

func (s *DispatchSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *DispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
