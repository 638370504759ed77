package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scrapdrift/internal/game"
	"scrapdrift/internal/protocol"
)

// Room is one isolated session: a membership table and the contested-object
// arbiter. The tick goroutine and the inbound handlers are the only writers
// and both go through mu, so within a room there is always exactly one
// active writer.
type Room struct {
	ID string

	mu        sync.Mutex
	sessions  map[string]*PeerSession
	contested *game.ContestedSet

	cfg  Config
	log  zerolog.Logger
	stop chan struct{}
}

func newRoom(id string, cfg Config, log zerolog.Logger) *Room {
	return &Room{
		ID:        id,
		sessions:  map[string]*PeerSession{},
		contested: game.NewContestedSet(cfg.Claim.Tuning()),
		cfg:       cfg,
		log:       log.With().Str("room", id).Logger(),
		stop:      make(chan struct{}),
	}
}

// run drives the arbiter at the fixed tick rate until the room closes.
func (r *Room) run() {
	dt := game.Dt
	ticker := time.NewTicker(time.Duration(float64(time.Second) * dt))
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			last = now
			r.tick(elapsed)
		}
	}
}

// tick advances the simulation and flushes each step's authoritative batch.
// Batches are assembled under the lock and sent after it, so a reader never
// observes half a step.
func (r *Room) tick(elapsed float64) {
	r.mu.Lock()
	results := r.contested.Advance(elapsed)
	var batches [][]protocol.Envelope
	for _, res := range results {
		batches = append(batches, r.batchEnvelopesLocked(res))
	}
	targets := r.sessionListLocked()
	r.mu.Unlock()

	for _, batch := range batches {
		for _, env := range batch {
			for _, sess := range targets {
				if err := sess.send(env); err != nil {
					r.log.Debug().Err(err).Str("session", sess.ID).Msg("tick send")
				}
			}
		}
	}
}

func (r *Room) batchEnvelopesLocked(res game.StepResult) []protocol.Envelope {
	var batch []protocol.Envelope
	if len(res.Updates) > 0 {
		if env, err := protocol.Pack(protocol.TypeClaimPhysics, protocol.ClaimPhysics{Objects: res.Updates}); err == nil {
			batch = append(batch, env)
		}
	}
	for _, col := range res.Collected {
		payload := protocol.ClaimCollected{ObjectID: col.ObjectID, HolderID: col.HolderID}
		if holder, ok := r.sessions[col.HolderID]; ok {
			pos := holder.Transform.Pos
			payload.HolderPos = &pos
		}
		if env, err := protocol.Pack(protocol.TypeClaimCollected, payload); err == nil {
			batch = append(batch, env)
		}
	}
	for _, rel := range res.Released {
		if env, err := protocol.Pack(protocol.TypeClaimReleased, protocol.ClaimReleased{ObjectID: rel.ObjectID, HolderID: rel.HolderID}); err == nil {
			batch = append(batch, env)
		}
	}
	return batch
}

func (r *Room) sessionListLocked() []*PeerSession {
	out := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// broadcast sends an envelope to every member except the named one (empty
// string excludes nobody).
func (r *Room) broadcast(env protocol.Envelope, except string) {
	r.mu.Lock()
	targets := make([]*PeerSession, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != except {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()
	for _, s := range targets {
		if err := s.send(env); err != nil {
			r.log.Debug().Err(err).Str("session", s.ID).Msg("broadcast send")
		}
	}
}

func (r *Room) sendTo(id string, env protocol.Envelope) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.send(env); err != nil {
		r.log.Debug().Err(err).Str("session", id).Msg("direct send")
		return false
	}
	return true
}

// rosterLocked builds the membership list sent to a joining participant.
func (r *Room) rosterLocked() []protocol.MemberInfo {
	roster := make([]protocol.MemberInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		roster = append(roster, protocol.MemberInfo{
			ID:        s.ID,
			Transform: s.Transform,
			Custom:    s.Custom,
		})
	}
	return roster
}

/* ------------------------------ Dispatch ------------------------------ */

// HandleEnvelope applies one inbound message from a session. Runs between
// ticks (both paths take r.mu), never mid-tick.
func (r *Room) HandleEnvelope(sess *PeerSession, env protocol.Envelope) {
	sess.touch()
	env.From = sess.ID

	switch env.Type {
	case protocol.TypeMemberUpdate:
		var p protocol.MemberUpdate
		if !r.decodeOrDrop(env, &p) {
			return
		}
		r.mu.Lock()
		sess.Transform = game.Transform{Pos: p.Pos, Rot: p.Rot, Vel: p.Vel}
		r.contested.UpdateHolder(sess.ID, p.Pos)
		r.mu.Unlock()
		p.ID = sess.ID
		if fwd, err := protocol.Pack(protocol.TypeMemberUpdate, p); err == nil {
			fwd.From = sess.ID
			r.broadcast(fwd, sess.ID)
		}

	case protocol.TypeNegotiateOffer, protocol.TypeNegotiateAnswer, protocol.TypeNegotiateCandidate:
		// Signaling path: route the opaque payload to its target only.
		if env.To == "" {
			r.log.Warn().Str("type", env.Type).Str("from", sess.ID).Msg("negotiation envelope without target")
			return
		}
		if !r.sendTo(env.To, env) {
			r.log.Debug().Str("type", env.Type).Str("target", env.To).Msg("negotiation target gone")
		}

	case protocol.TypePositionFull, protocol.TypePositionDelta,
		protocol.TypeEntitySpawn, protocol.TypeEntityDestroy:
		// Relay fallback for owner-authoritative traffic: addressed
		// envelopes go to one member, the rest to the whole room.
		if env.To != "" {
			r.sendTo(env.To, env)
			return
		}
		r.broadcast(env, sess.ID)

	case protocol.TypeClaimStart:
		var p protocol.ClaimStart
		if !r.decodeOrDrop(env, &p) {
			return
		}
		r.mu.Lock()
		sess.Transform.Pos = p.HolderPos
		accepted := r.contested.StartClaim(sess.ID, p.ObjectIDs, p.Positions, p.HolderPos)
		r.mu.Unlock()
		if len(accepted) == 0 {
			// Everything was already held; contention is not an error,
			// the requester just obtained nothing.
			accepted = []string{}
		}
		if out, err := protocol.Pack(protocol.TypeClaimStarted, protocol.ClaimStarted{HolderID: sess.ID, ObjectIDs: accepted}); err == nil {
			r.broadcast(out, "")
		}

	case protocol.TypeClaimStop:
		r.mu.Lock()
		dropped := r.contested.StopClaim(sess.ID)
		r.mu.Unlock()
		if len(dropped) == 0 {
			return
		}
		if out, err := protocol.Pack(protocol.TypeClaimStopped, protocol.ClaimStopped{HolderID: sess.ID, ObjectIDs: dropped}); err == nil {
			r.broadcast(out, "")
		}

	case protocol.TypeChat:
		var p protocol.Chat
		if !r.decodeOrDrop(env, &p) {
			return
		}
		p.Name = sess.Name()
		if out, err := protocol.Pack(protocol.TypeChat, p); err == nil {
			out.From = sess.ID
			r.broadcast(out, "")
		}

	default:
		r.log.Debug().Str("type", env.Type).Str("from", sess.ID).Msg("ignoring unknown envelope")
	}
}

func (r *Room) decodeOrDrop(env protocol.Envelope, out any) bool {
	if err := env.Decode(out); err != nil {
		r.log.Warn().Err(err).Str("type", env.Type).Msg("dropping envelope")
		return false
	}
	return true
}

/* ------------------------------ Lifecycle ------------------------------ */

// removeSession tears a member down: claims are stopped in the same step
// that detects the departure, then the rest of the room learns about it.
func (r *Room) removeSession(id string, closeConn bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	dropped := r.contested.StopClaim(id)
	r.mu.Unlock()

	if closeConn {
		_ = sess.conn.Close()
	}
	if len(dropped) > 0 {
		if out, err := protocol.Pack(protocol.TypeClaimStopped, protocol.ClaimStopped{HolderID: id, ObjectIDs: dropped}); err == nil {
			r.broadcast(out, "")
		}
	}
	if out, err := protocol.Pack(protocol.TypeMemberLeft, protocol.MemberLeft{ID: id}); err == nil {
		r.broadcast(out, "")
	}
	r.log.Info().Str("session", id).Msg("member left")
}

func (r *Room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) == 0
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Room) close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}
