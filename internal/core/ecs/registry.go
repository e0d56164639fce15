package ecs

// Registry is the set of stores an entity's components live in. Destroying
// an entity clears it from each of them.
type Registry struct {
	stores []Removable
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds store. Registering the same store twice is a no-op.
func (r *Registry) Register(store Removable) {
	for _, s := range r.stores {
		if s == store {
			return
		}
	}
	r.stores = append(r.stores, store)
}

func (r *Registry) Len() int { return len(r.stores) }

// RemoveAll clears id from every registered store.
func (r *Registry) RemoveAll(id EntityID) {
	for _, s := range r.stores {
		s.Remove(id)
	}
}
