package client

import (
	"scrapdrift/internal/game"
	"scrapdrift/internal/protocol"
)

// Entity is one replicated object as this participant sees it. Locally
// owned entities carry a live transform driven by prediction; remote ones
// are read through their snapshot buffer.
type Entity struct {
	ID      string
	Kind    game.Kind
	OwnerID string

	Transform game.Transform
	Thrust    bool

	Buffer     *SnapshotBuffer
	Meta       map[string]string
	HolderID   string // arbiter-reported holder for contested kinds
	LastUpdate float64
}

// Local reports whether this participant owns the entity.
func (e *Entity) Local(selfID string) bool { return e.OwnerID == selfID }

// Registry maps entity ids to replication state and enforces the ownership
// rule: an update is accepted only from the entity's owner, or from the
// arbiter for contested kinds. Arbiter updates always win for contested
// kinds, even while a local claim animation is running.
type Registry struct {
	selfID   string
	entities map[string]*Entity
}

func NewRegistry(selfID string) *Registry {
	return &Registry{selfID: selfID, entities: map[string]*Entity{}}
}

func (r *Registry) Get(id string) *Entity { return r.entities[id] }

func (r *Registry) Len() int { return len(r.entities) }

// Each calls fn for every entity.
func (r *Registry) Each(fn func(*Entity)) {
	for _, e := range r.entities {
		fn(e)
	}
}

// SpawnLocal registers an entity owned by this participant.
func (r *Registry) SpawnLocal(id string, kind game.Kind, tr game.Transform, meta map[string]string, now float64) *Entity {
	e := &Entity{
		ID:         id,
		Kind:       kind,
		OwnerID:    r.selfID,
		Transform:  tr,
		Meta:       meta,
		LastUpdate: now,
	}
	r.entities[id] = e
	return e
}

// ApplySpawn registers an entity announced by a remote owner. A re-spawn of
// a known id from a different owner is rejected; the first owner keeps it.
func (r *Registry) ApplySpawn(p protocol.EntitySpawn, now float64) *Entity {
	if existing, ok := r.entities[p.EntityID]; ok {
		if existing.OwnerID != p.OwnerID {
			return nil
		}
		existing.LastUpdate = now
		return existing
	}
	e := &Entity{
		ID:         p.EntityID,
		Kind:       p.Kind,
		OwnerID:    p.OwnerID,
		Transform:  p.Transform,
		Buffer:     NewSnapshotBuffer(p.Kind),
		Meta:       p.Meta,
		LastUpdate: now,
	}
	e.Buffer.Add(game.Snapshot{T: now, Pos: p.Transform.Pos, Rot: p.Transform.Rot, Vel: p.Transform.Vel})
	r.entities[p.EntityID] = e
	return e
}

// ApplyRemote feeds an observed state from a claimed sender into the
// entity's buffer. Returns false when the sender does not own the entity,
// or when the entity is unknown.
func (r *Registry) ApplyRemote(id, from string, s game.Snapshot) bool {
	e, ok := r.entities[id]
	if !ok {
		return false
	}
	if e.OwnerID != from {
		return false
	}
	if e.Local(r.selfID) {
		// Echo of our own traffic; the live transform is authoritative.
		return false
	}
	if e.Kind.Contested() && e.HolderID != "" {
		// The arbiter owns this entity while a claim is active.
		return false
	}
	e.Buffer.Add(s)
	e.LastUpdate = s.T
	return true
}

// ApplyArbiter feeds an authoritative contested-object update. The arbiter
// outranks the owner for contested kinds, so no sender check applies. An
// unknown id is registered on the fly as junk.
func (r *Registry) ApplyArbiter(up game.ObjectUpdate, now float64) *Entity {
	e, ok := r.entities[up.ID]
	if !ok {
		e = &Entity{
			ID:      up.ID,
			Kind:    game.KindJunk,
			OwnerID: up.HolderID,
			Buffer:  NewSnapshotBuffer(game.KindJunk),
		}
		r.entities[up.ID] = e
	}
	e.HolderID = up.HolderID
	e.LastUpdate = now
	if e.Buffer == nil {
		e.Buffer = NewSnapshotBuffer(e.Kind)
	}
	e.Buffer.Add(game.Snapshot{T: now, Pos: up.Pos, Vel: up.Vel})
	return e
}

// ApplyDestroy removes an entity; returns true when it existed.
func (r *Registry) ApplyDestroy(id string) bool {
	if _, ok := r.entities[id]; !ok {
		return false
	}
	delete(r.entities, id)
	return true
}

// DestroyOwnedBy removes every entity owned by the given participant and
// returns the removed ids. Used when a member leaves.
func (r *Registry) DestroyOwnedBy(ownerID string) []string {
	var removed []string
	for id, e := range r.entities {
		if e.OwnerID == ownerID {
			delete(r.entities, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Read produces the render state for an entity: the live transform for
// locally owned entities, the buffered interpolated state otherwise.
func (r *Registry) Read(id string, now float64) (game.Snapshot, bool) {
	e, ok := r.entities[id]
	if !ok {
		return game.Snapshot{}, false
	}
	if e.Local(r.selfID) || e.Buffer == nil {
		return game.Snapshot{
			T:      now,
			Pos:    e.Transform.Pos,
			Rot:    e.Transform.Rot,
			Vel:    e.Transform.Vel,
			Thrust: e.Thrust,
		}, true
	}
	return e.Buffer.Read(now)
}

// Sweep prunes entities without a fresh update, returning the pruned ids.
// A pruned entity is indistinguishable from a disconnect for consumers.
func (r *Registry) Sweep(now float64) []string {
	var expired []string
	for id, e := range r.entities {
		if e.Local(r.selfID) {
			continue
		}
		if now-e.LastUpdate > game.EntityTimeout {
			delete(r.entities, id)
			expired = append(expired, id)
		}
	}
	return expired
}
