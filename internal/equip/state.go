package equip

// State is the controller's position in the equip/unequip protocol.
type State uint8

const (
	Idle State = iota
	Spawning
	AwaitingAuthority
	Attaching
	Attached
	Detaching
	Despawning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Spawning:
		return "spawning"
	case AwaitingAuthority:
		return "awaiting_authority"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	case Detaching:
		return "detaching"
	case Despawning:
		return "despawning"
	}
	return "unknown"
}
