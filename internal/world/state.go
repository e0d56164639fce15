package world

import (
	"sort"

	"github.com/l1jgo/wield/internal/core/ecs"
)

// State holds every avatar currently in the world, indexed by entity and
// by owning peer. Accessed only from the game loop goroutine.
type State struct {
	byID   map[ecs.EntityID]*Avatar
	byPeer map[PeerID]*Avatar
	byName map[string]*Avatar
}

func NewState() *State {
	return &State{
		byID:   make(map[ecs.EntityID]*Avatar),
		byPeer: make(map[PeerID]*Avatar),
		byName: make(map[string]*Avatar),
	}
}

// Add registers a. A peer controls at most one avatar; adding a second
// avatar for the same peer returns false.
func (s *State) Add(a *Avatar) bool {
	if _, taken := s.byPeer[a.Owner]; taken && a.Owner != ServerPeer {
		return false
	}
	s.byID[a.ID] = a
	if a.Owner != ServerPeer {
		s.byPeer[a.Owner] = a
	}
	if a.Name != "" {
		s.byName[a.Name] = a
	}
	return true
}

// Remove unregisters the avatar and returns it (nil if unknown).
func (s *State) Remove(id ecs.EntityID) *Avatar {
	a, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if s.byPeer[a.Owner] == a {
		delete(s.byPeer, a.Owner)
	}
	if s.byName[a.Name] == a {
		delete(s.byName, a.Name)
	}
	return a
}

func (s *State) ByID(id ecs.EntityID) *Avatar { return s.byID[id] }

func (s *State) ByPeer(p PeerID) *Avatar { return s.byPeer[p] }

func (s *State) ByName(name string) *Avatar { return s.byName[name] }

func (s *State) Count() int { return len(s.byID) }

// All returns every avatar ordered by entity ID, so iteration order is stable
// from tick to tick.
func (s *State) All() []*Avatar {
	out := make([]*Avatar, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Each calls fn for every avatar in stable order.
func (s *State) Each(fn func(*Avatar)) {
	for _, a := range s.All() {
		fn(a)
	}
}
