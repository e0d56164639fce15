package system

import (
	"time"

	"github.com/l1jgo/wield/internal/core/ecs"
	coresys "github.com/l1jgo/wield/internal/core/system"
)

// CleanupSystem 在每個 tick 結束時銷毀排隊的實體（已卸下的武器等）。
// Phase 6 (Cleanup)。
type CleanupSystem struct {
	world     *ecs.World
	destroyed uint64
}

func NewCleanupSystem(world *ecs.World) *CleanupSystem {
	return &CleanupSystem{world: world}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.destroyed += uint64(s.world.FlushDestroyQueue())
}

// Destroyed 回傳啟動以來銷毀的實體總數。
func (s *CleanupSystem) Destroyed() uint64 { return s.destroyed }
