package system

import (
	"time"

	"github.com/l1jgo/wield/internal/core/ecs"
	coresys "github.com/l1jgo/wield/internal/core/system"
)

// SpawnSystem confirms queued spawns whose delay has elapsed. Confirmed
// objects are announced to the sinks right away; their parent changes go
// out with the output system's gateway flush. Phase 3 (PostUpdate).
type SpawnSystem struct {
	world *ecs.World
}

func NewSpawnSystem(world *ecs.World) *SpawnSystem {
	return &SpawnSystem{world: world}
}

func (s *SpawnSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *SpawnSystem) Update(_ time.Duration) {
	s.world.FlushSpawnQueue()
}
