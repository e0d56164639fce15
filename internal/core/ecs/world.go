package ecs

// World is the top-level ECS container. It owns the entity pool, the component
// registry, a spawn queue that confirms entities after a tick delay, and a
// deferred destruction queue flushed by CleanupSystem each tick.
type World struct {
	pool     *EntityPool
	registry *Registry

	spawnQueue   []queuedSpawn
	destroyQueue []EntityID
	queued       map[EntityID]struct{} // ids already in destroyQueue
}

type queuedSpawn struct {
	id        EntityID
	ticksLeft int
	confirm   func(EntityID)
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		registry:     NewRegistry(),
		destroyQueue: make([]EntityID, 0, 64),
		queued:       make(map[EntityID]struct{}),
	}
}

func (w *World) Pool() *EntityPool   { return w.pool }
func (w *World) Registry() *Registry { return w.registry }

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// QueueSpawn schedules confirm(id) after delay FlushSpawnQueue calls.
// A delay below 1 is treated as 1: confirmation never happens inline.
func (w *World) QueueSpawn(id EntityID, delay int, confirm func(EntityID)) {
	if delay < 1 {
		delay = 1
	}
	w.spawnQueue = append(w.spawnQueue, queuedSpawn{id: id, ticksLeft: delay, confirm: confirm})
}

// PendingSpawns returns the number of spawns waiting for confirmation.
func (w *World) PendingSpawns() int { return len(w.spawnQueue) }

// FlushSpawnQueue advances every queued spawn by one tick and confirms the
// ones that are due. Entities destroyed while queued are dropped silently.
func (w *World) FlushSpawnQueue() {
	if len(w.spawnQueue) == 0 {
		return
	}
	due := make([]queuedSpawn, 0, len(w.spawnQueue))
	keep := w.spawnQueue[:0]
	for _, q := range w.spawnQueue {
		q.ticksLeft--
		if q.ticksLeft > 0 {
			keep = append(keep, q)
			continue
		}
		due = append(due, q)
	}
	w.spawnQueue = keep
	// confirm callbacks may queue new spawns; run them after the queue is rebuilt
	for _, q := range due {
		if !w.pool.Alive(q.id) {
			continue
		}
		if q.confirm != nil {
			q.confirm(q.id)
		}
	}
}

// MarkForDestruction queues an entity for end-of-tick cleanup.
// Returns false when the entity is dead or already queued.
func (w *World) MarkForDestruction(id EntityID) bool {
	if !w.pool.Alive(id) {
		return false
	}
	if _, dup := w.queued[id]; dup {
		return false
	}
	w.queued[id] = struct{}{}
	w.destroyQueue = append(w.destroyQueue, id)
	return true
}

// FlushDestroyQueue destroys all queued entities, clears their components
// and returns how many were destroyed.
func (w *World) FlushDestroyQueue() int {
	n := len(w.destroyQueue)
	for _, id := range w.destroyQueue {
		w.registry.RemoveAll(id)
		w.pool.Destroy(id)
		delete(w.queued, id)
	}
	w.destroyQueue = w.destroyQueue[:0]
	return n
}
