package system

import (
	"fmt"
	"time"
)

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain packet queues
	PhasePreUpdate               // 1: dispatch last tick's events (equip/unequip requests)
	PhaseUpdate                  // 2: equip controllers step their flows
	PhasePostUpdate              // 3: spawn confirmation
	PhaseOutput                  // 4: replication flush + send packets
	PhasePersist                 // 5: equip journal + inventory save
	PhaseCleanup                 // 6: destroy queued entities
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "Input"
	case PhasePreUpdate:
		return "PreUpdate"
	case PhaseUpdate:
		return "Update"
	case PhasePostUpdate:
		return "PostUpdate"
	case PhaseOutput:
		return "Output"
	case PhasePersist:
		return "Persist"
	case PhaseCleanup:
		return "Cleanup"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
