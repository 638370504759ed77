package client

import (
	"math"

	"scrapdrift/internal/game"
	"scrapdrift/internal/protocol"
)

// Deltas are computed against the last transmitted full state rather than
// the previous delta, so the receiver reconstructs the sender's transform
// exactly from any single delta regardless of how many were dropped in
// between. A full state is re-sent periodically to bound the delta floats.

type deltaState struct {
	full       game.Transform // last full state sent
	fullKind   game.Kind
	last       game.Transform // last emitted transform, for suppression
	lastThrust bool
	sinceFull  int
	seq        uint32
	sentAny    bool
}

// Encoder tracks per-entity transmit state for one recipient.
type Encoder struct {
	states map[string]*deltaState
}

func NewEncoder() *Encoder {
	return &Encoder{states: map[string]*deltaState{}}
}

// Encode produces the next outgoing message for an entity: a full state on
// first transmission (or when forced, or periodically), a delta otherwise,
// or nothing at all when the change is below the suppression thresholds and
// no flag flipped. Suppression applies on every path after the first
// transmission, including the relay-only one where fulls are forced.
func (e *Encoder) Encode(id string, kind game.Kind, tr game.Transform, thrust, forceFull bool) (*protocol.PositionFull, *protocol.PositionDelta) {
	st, ok := e.states[id]
	if !ok {
		st = &deltaState{}
		e.states[id] = st
	}

	if st.sentAny {
		dPos := tr.Pos.Sub(st.last.Pos)
		dRot := tr.Rot - st.last.Rot
		dVel := tr.Vel.Sub(st.last.Vel)
		if dPos.LenSq() < game.DeltaPosEpsSq &&
			math.Abs(dRot) < game.DeltaRotEps &&
			dVel.LenSq() < game.DeltaVelEpsSq &&
			thrust == st.lastThrust {
			return nil, nil
		}
	}

	if st.sentAny && !forceFull && st.sinceFull < game.FullStateEvery {
		st.seq++
		st.sinceFull++
		st.last = tr
		st.lastThrust = thrust
		return nil, &protocol.PositionDelta{
			EntityID: id,
			DPos:     tr.Pos.Sub(st.full.Pos),
			DRot:     tr.Rot - st.full.Rot,
			DVel:     tr.Vel.Sub(st.full.Vel),
			Thrust:   thrust,
			Seq:      st.seq,
		}
	}

	st.seq++
	st.full = tr
	st.fullKind = kind
	st.last = tr
	st.lastThrust = thrust
	st.sinceFull = 0
	st.sentAny = true
	return &protocol.PositionFull{
		EntityID: id,
		Kind:     kind,
		Pos:      tr.Pos,
		Rot:      tr.Rot,
		Vel:      tr.Vel,
		Thrust:   thrust,
		Seq:      st.seq,
	}, nil
}

// Forget drops transmit state for an entity (after destroy).
func (e *Encoder) Forget(id string) {
	delete(e.states, id)
}

/* ------------------------------- Decoder ------------------------------- */

type decodeState struct {
	full game.Transform
	kind game.Kind
	seq  uint32
}

// Decoder is the receive side: it remembers the last full state per entity
// and resolves deltas against it.
type Decoder struct {
	states map[string]*decodeState
}

func NewDecoder() *Decoder {
	return &Decoder{states: map[string]*decodeState{}}
}

// ApplyFull replaces the entity's reference state. Returns false for a full
// that is older than what has already been applied; on the unreliable peer
// path fulls can arrive out of order like anything else.
func (d *Decoder) ApplyFull(p protocol.PositionFull) (game.Transform, game.Kind, bool) {
	if st, ok := d.states[p.EntityID]; ok && p.Seq != 0 && p.Seq <= st.seq {
		return game.Transform{}, "", false
	}
	tr := game.Transform{Pos: p.Pos, Rot: p.Rot, Vel: p.Vel}
	d.states[p.EntityID] = &decodeState{full: tr, kind: p.Kind, seq: p.Seq}
	return tr, p.Kind, true
}

// ApplyDelta resolves a delta against the last known full state. Returns
// false when no full state has been seen for the entity yet; the caller
// drops the message and waits for the next full.
func (d *Decoder) ApplyDelta(p protocol.PositionDelta) (game.Transform, game.Kind, bool) {
	st, ok := d.states[p.EntityID]
	if !ok {
		return game.Transform{}, "", false
	}
	if p.Seq != 0 && p.Seq <= st.seq {
		// Stale or duplicate delta on the unreliable path.
		return game.Transform{}, "", false
	}
	st.seq = p.Seq
	tr := game.Transform{
		Pos: st.full.Pos.Add(p.DPos),
		Rot: st.full.Rot + p.DRot,
		Vel: st.full.Vel.Add(p.DVel),
	}
	return tr, st.kind, true
}

// Forget drops receive state for an entity.
func (d *Decoder) Forget(id string) {
	delete(d.states, id)
}
