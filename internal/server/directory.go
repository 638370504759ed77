package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scrapdrift/internal/game"
	"scrapdrift/internal/protocol"
)

// ErrStaleSession marks a reconnect that displaced a live session under the
// same persistent id. Logged, never fatal.
var ErrStaleSession = errors.New("stale session displaced")

// ErrRoomFull rejects a join once the membership cap is reached.
var ErrRoomFull = errors.New("room full")

// Directory is the process-wide membership authority: one instance,
// constructed at startup, torn down on shutdown. Rooms and sessions are
// id-indexed maps owned here; nothing keeps back-pointers.
type Directory struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewDirectory(cfg Config, log zerolog.Logger) *Directory {
	return &Directory{
		cfg:   cfg,
		log:   log.With().Str("component", "directory").Logger(),
		rooms: map[string]*Room{},
	}
}

// room returns the named room, creating and starting it on first join.
func (d *Directory) room(id string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[id]
	if !ok {
		r = newRoom(id, d.cfg, d.log)
		d.rooms[id] = r
		go r.run()
		d.log.Info().Str("room", id).Msg("room created")
	}
	return r
}

// Join admits a participant. If the requested persistent id matches a live
// session (a reconnect after a client-side refresh), the stale session is
// torn down first, with a member-left for the old entity, before the new
// one is admitted under the same id. The joiner receives
// welcome and the roster immediately; the rest of the room hears about the
// join after a short settle delay on the reconnect path, immediately
// otherwise.
func (d *Directory) Join(req protocol.JoinRoom, conn relaySender) (*Room, *PeerSession, error) {
	roomID := req.RoomID
	if roomID == "" {
		roomID = "default"
	}
	room := d.room(roomID)

	id := req.PersistentID
	persistent := id != ""
	if id == "" {
		id = game.RandID("p")
	}

	reconnect := false
	room.mu.Lock()
	for {
		// Re-check after every teardown: a concurrent join under the same
		// persistent id can slip into the map while the lock is released.
		stale, ok := room.sessions[id]
		if !ok {
			break
		}
		room.mu.Unlock()
		reconnect = true
		d.log.Info().Err(ErrStaleSession).Str("session", id).Msg("reconnect: tearing down stale session")
		room.removeSession(stale.ID, true)
		room.mu.Lock()
	}
	if d.cfg.MaxRoomMembers > 0 && len(room.sessions) >= d.cfg.MaxRoomMembers {
		room.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrRoomFull, roomID)
	}
	sess := &PeerSession{
		ID:         id,
		RoomID:     roomID,
		Persistent: persistent,
		Custom:     req.Custom,
		LastActive: time.Now(),
		conn:       conn,
	}
	room.sessions[id] = sess
	roster := room.rosterLocked()
	room.mu.Unlock()

	if env, err := protocol.Pack(protocol.TypeWelcome, protocol.Welcome{ID: id}); err == nil {
		if err := sess.send(env); err != nil {
			room.removeSession(id, true)
			return nil, nil, fmt.Errorf("welcome %s: %w", id, err)
		}
	}
	// Roster first, so the joiner can build its registry before any
	// member-update traffic references unknown ids.
	if env, err := protocol.Pack(protocol.TypeRoomJoined, protocol.RoomJoined{RoomID: roomID, Roster: roster}); err == nil {
		if err := sess.send(env); err != nil {
			room.removeSession(id, true)
			return nil, nil, fmt.Errorf("roster %s: %w", id, err)
		}
	}

	notify := func() {
		if env, err := protocol.Pack(protocol.TypeMemberJoined, protocol.MemberJoined{
			ID:        id,
			Transform: sess.Transform,
			Custom:    sess.Custom,
		}); err == nil {
			room.broadcast(env, id)
		}
	}
	if reconnect && d.cfg.ReconnectNotifyDelayMs > 0 {
		// Let receivers finish the stale-entity teardown before they see
		// the same id joining again.
		time.AfterFunc(time.Duration(d.cfg.ReconnectNotifyDelayMs)*time.Millisecond, notify)
	} else {
		notify()
	}

	d.log.Info().Str("room", roomID).Str("session", id).Bool("reconnect", reconnect).Msg("member joined")
	return room, sess, nil
}

// UpgradeIdentity re-keys an ephemeral session to a persistent id, an
// explicit transition rather than an overwrite. Fails when the target id is
// already live in the room.
func (d *Directory) UpgradeIdentity(roomID, sessionID, persistentID string) error {
	d.mu.Lock()
	room, ok := d.rooms[roomID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("upgrade identity: unknown room %s", roomID)
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	sess, ok := room.sessions[sessionID]
	if !ok {
		return fmt.Errorf("upgrade identity: unknown session %s", sessionID)
	}
	if _, taken := room.sessions[persistentID]; taken {
		return fmt.Errorf("upgrade identity: id %s already live", persistentID)
	}
	old := sess.UpgradeIdentity(persistentID)
	delete(room.sessions, old)
	room.sessions[persistentID] = sess
	d.log.Info().Str("room", roomID).Str("old", old).Str("new", persistentID).Msg("identity upgraded")
	return nil
}

// Leave removes a session and destroys the room once empty.
func (d *Directory) Leave(roomID, sessionID string) {
	d.mu.Lock()
	room, ok := d.rooms[roomID]
	d.mu.Unlock()
	if !ok {
		return
	}
	room.removeSession(sessionID, true)
	d.reapIfEmpty(roomID, room)
}

func (d *Directory) reapIfEmpty(roomID string, room *Room) {
	if !room.empty() {
		return
	}
	d.mu.Lock()
	if r, ok := d.rooms[roomID]; ok && r == room && room.empty() {
		delete(d.rooms, roomID)
		room.close()
		d.log.Info().Str("room", roomID).Msg("room destroyed")
	}
	d.mu.Unlock()
}

// Sweep drops sessions with no activity inside the timeout window. A swept
// session is an ordinary disconnect: claims stop, the room sees one
// member-left.
func (d *Directory) Sweep() {
	cutoff := time.Now().Add(-time.Duration(d.cfg.SessionTimeoutS * float64(time.Second)))
	d.mu.Lock()
	rooms := make(map[string]*Room, len(d.rooms))
	for id, r := range d.rooms {
		rooms[id] = r
	}
	d.mu.Unlock()

	for roomID, room := range rooms {
		room.mu.Lock()
		var stale []string
		for id, sess := range room.sessions {
			if sess.LastActive.Before(cutoff) {
				stale = append(stale, id)
			}
		}
		room.mu.Unlock()
		for _, id := range stale {
			d.log.Info().Str("room", roomID).Str("session", id).Msg("sweeping idle session")
			room.removeSession(id, true)
		}
		d.reapIfEmpty(roomID, room)
	}
}

// Close tears down every room.
func (d *Directory) Close() {
	d.mu.Lock()
	rooms := d.rooms
	d.rooms = map[string]*Room{}
	d.mu.Unlock()
	for _, room := range rooms {
		room.mu.Lock()
		sessions := room.sessionListLocked()
		room.mu.Unlock()
		for _, s := range sessions {
			room.removeSession(s.ID, true)
		}
		room.close()
	}
}
