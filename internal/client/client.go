package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scrapdrift/internal/game"
	"scrapdrift/internal/protocol"
)

// EventType tags the single event stream consumers receive from the core.
type EventType int

const (
	EventMemberJoined EventType = iota
	EventMemberLeft
	EventEntitySpawned
	EventEntityDestroyed
	EventChat
	EventClaimAccepted
	EventClaimStarted
	EventClaimStopped
	EventCollected
	EventReleased
)

// Event is the tagged union delivered to the consumer; which fields are
// set depends on Type.
type Event struct {
	Type      EventType
	MemberID  string
	EntityID  string
	HolderID  string
	ObjectIDs []string
	Text      string
	Name      string
	Pos       *game.Vec2 // collector-return hint on EventCollected
}

type Config struct {
	URL          string
	RoomID       string
	PersistentID string
	Custom       *protocol.Customization
	OnEvent      func(Event)
	Log          zerolog.Logger
}

// Client is the participant-side synchronization core: it owns the relay
// connection, the peer channels, the entity registry and the delta codec,
// and exposes spawn/move/destroy/claim intents to the surrounding game.
type Client struct {
	cfg Config
	log zerolog.Logger

	relay relayLink
	peers *PeerManager

	mu         sync.Mutex
	id         string
	roomID     string
	members    map[string]struct{}
	registry   *Registry
	encoders   map[string]*Encoder // per remote participant
	decoder    *Decoder
	lastTick   float64
	lastMember float64

	welcomed chan struct{}
	clock    func() float64
}

func New(cfg Config) *Client {
	c := &Client{
		cfg:      cfg,
		log:      cfg.Log.With().Str("component", "netcode").Logger(),
		members:  map[string]struct{}{},
		encoders: map[string]*Encoder{},
		decoder:  NewDecoder(),
		welcomed: make(chan struct{}),
		clock:    func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
	return c
}

// ID returns the participant id assigned by the server. Empty before Join
// completes.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Join dials the relay, requests room membership and blocks until the
// server's welcome arrives. The read loop keeps running in the background
// afterwards.
func (c *Client) Join(ctx context.Context) error {
	relay, err := DialRelay(ctx, c.cfg.URL, c.log)
	if err != nil {
		return err
	}
	c.relay = relay
	c.peers = NewPeerManager(c.cfg.PersistentID, relay.Send, c.handlePeer, c.log)
	c.peers.SetOnClosed(func(remoteID string) {
		c.mu.Lock()
		delete(c.encoders, remoteID)
		c.mu.Unlock()
	})

	go func() {
		if err := relay.ReadLoop(ctx, c.handleEnvelope); err != nil {
			c.log.Info().Err(err).Msg("relay loop ended")
		}
	}()

	env, err := protocol.Pack(protocol.TypeJoinRoom, protocol.JoinRoom{
		RoomID:       c.cfg.RoomID,
		PersistentID: c.cfg.PersistentID,
		Custom:       c.cfg.Custom,
	})
	if err != nil {
		return err
	}
	if err := c.relay.Send(env); err != nil {
		return err
	}
	select {
	case <-c.welcomed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave closes every channel and the relay connection.
func (c *Client) Leave() {
	if c.peers != nil {
		c.peers.CloseAll()
	}
	if c.relay != nil {
		_ = c.relay.Close()
	}
}

// Registry exposes replicated state for the frame tick.
func (c *Client) Registry() *Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry
}

// ReadState returns the render state for one entity.
func (c *Client) ReadState(entityID string) (game.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registry == nil {
		return game.Snapshot{}, false
	}
	return c.registry.Read(entityID, c.clock())
}

// Tick runs the per-frame maintenance: expired-entity sweep. Call once per
// render frame.
func (c *Client) Tick() {
	now := c.clock()
	c.mu.Lock()
	reg := c.registry
	if reg == nil || now-c.lastTick < 1.0 {
		c.mu.Unlock()
		return
	}
	c.lastTick = now
	expired := reg.Sweep(now)
	c.mu.Unlock()
	for _, id := range expired {
		c.emit(Event{Type: EventEntityDestroyed, EntityID: id})
	}
}

/* ------------------------------- Intents ------------------------------- */

// PublishTransform replicates a locally owned entity's transform: delta
// frames over open peer channels, full states over the relay for members
// without one. Sub-threshold changes emit nothing.
func (c *Client) PublishTransform(entityID string, kind game.Kind, tr game.Transform, thrust bool) {
	c.mu.Lock()
	if c.registry != nil {
		if e := c.registry.Get(entityID); e != nil && e.Local(c.id) {
			e.Transform = tr
			e.Thrust = thrust
		}
	}
	targets := make([]string, 0, len(c.members))
	for id := range c.members {
		if id != c.id {
			targets = append(targets, id)
		}
	}
	c.mu.Unlock()

	for _, remoteID := range targets {
		open := c.peers.Open(remoteID)
		enc := c.encoderFor(remoteID)
		full, delta := enc.Encode(entityID, kind, tr, thrust, !open)
		switch {
		case full != nil && open:
			c.sendPeerOrRelay(remoteID, protocol.TypePositionFull, full)
		case full != nil:
			c.sendRelayTo(remoteID, protocol.TypePositionFull, full)
		case delta != nil:
			c.sendPeerOrRelay(remoteID, protocol.TypePositionDelta, delta)
		}
	}
}

// memberUpdateInterval throttles self-pose reports to the relay.
const memberUpdateInterval = 0.1

// PublishMemberUpdate reports this participant's own pose to the room over
// the relay. The arbiter retargets every object this participant holds from
// it, so callers should publish whenever the local ship moves; sends are
// rate limited here.
func (c *Client) PublishMemberUpdate(tr game.Transform) {
	now := c.clock()
	c.mu.Lock()
	if now-c.lastMember < memberUpdateInterval {
		c.mu.Unlock()
		return
	}
	c.lastMember = now
	id := c.id
	c.mu.Unlock()
	c.sendRelayTo("", protocol.TypeMemberUpdate, protocol.MemberUpdate{
		ID:  id,
		Pos: tr.Pos,
		Rot: tr.Rot,
		Vel: tr.Vel,
	})
}

// SpawnEntity announces a locally owned entity. Spawns ride the relay so
// every member sees them even before peer channels open.
func (c *Client) SpawnEntity(entityID string, kind game.Kind, tr game.Transform, meta map[string]string) {
	now := c.clock()
	c.mu.Lock()
	if c.registry != nil {
		c.registry.SpawnLocal(entityID, kind, tr, meta, now)
	}
	ownerID := c.id
	c.mu.Unlock()
	c.sendRelayTo("", protocol.TypeEntitySpawn, protocol.EntitySpawn{
		EntityID:  entityID,
		Kind:      kind,
		OwnerID:   ownerID,
		Transform: tr,
		Meta:      meta,
	})
}

// DestroyEntity retires a locally owned entity.
func (c *Client) DestroyEntity(entityID string) {
	c.mu.Lock()
	if c.registry != nil {
		c.registry.ApplyDestroy(entityID)
	}
	for _, enc := range c.encoders {
		enc.Forget(entityID)
	}
	c.mu.Unlock()
	c.sendRelayTo("", protocol.TypeEntityDestroy, protocol.EntityDestroy{EntityID: entityID})
}

// StartClaim asks the arbiter for the listed objects. The accepted subset
// arrives as an EventClaimAccepted.
func (c *Client) StartClaim(objectIDs []string, positions []game.Vec2, holderPos game.Vec2) {
	c.sendRelayTo("", protocol.TypeClaimStart, protocol.ClaimStart{
		ObjectIDs: objectIDs,
		Positions: positions,
		HolderPos: holderPos,
	})
}

// StopClaim releases everything this participant holds.
func (c *Client) StopClaim() {
	c.sendRelayTo("", protocol.TypeClaimStop, protocol.ClaimStop{})
}

// SendChat relays a chat line; the server resolves the display name.
func (c *Client) SendChat(text string) {
	c.sendRelayTo("", protocol.TypeChat, protocol.Chat{Text: text})
}

/* ------------------------------ Dispatch ------------------------------ */

// handleEnvelope is the single dispatch point for relay traffic.
func (c *Client) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeWelcome:
		var p protocol.Welcome
		if c.decodeOrDrop(env, &p) {
			c.mu.Lock()
			if c.registry != nil {
				// Repeated welcome; keeping the first identity.
				c.mu.Unlock()
				c.log.Warn().Str("id", p.ID).Msg("dropping duplicate welcome")
				return
			}
			c.id = p.ID
			c.registry = NewRegistry(p.ID)
			c.members[p.ID] = struct{}{}
			c.mu.Unlock()
			c.peers.SetSelfID(p.ID)
			close(c.welcomed)
		}

	case protocol.TypeRoomJoined:
		var p protocol.RoomJoined
		if !c.decodeOrDrop(env, &p) {
			return
		}
		now := c.clock()
		c.mu.Lock()
		c.roomID = p.RoomID
		reg := c.registry
		for _, m := range p.Roster {
			c.members[m.ID] = struct{}{}
			if reg != nil {
				reg.ApplySpawn(protocol.EntitySpawn{
					EntityID:  m.ID,
					Kind:      game.KindShip,
					OwnerID:   m.ID,
					Transform: m.Transform,
				}, now)
			}
		}
		selfID := c.id
		c.mu.Unlock()
		// The joining side initiates every negotiation; existing members
		// only answer. One initiator per pair, no duplicate channels.
		for _, m := range p.Roster {
			if m.ID == selfID {
				continue
			}
			if err := c.peers.Connect(m.ID); err != nil {
				c.log.Warn().Err(err).Str("remote", m.ID).Msg("peer connect")
			}
		}

	case protocol.TypeMemberJoined:
		var p protocol.MemberJoined
		if !c.decodeOrDrop(env, &p) {
			return
		}
		now := c.clock()
		c.mu.Lock()
		c.members[p.ID] = struct{}{}
		if c.registry != nil {
			c.registry.ApplySpawn(protocol.EntitySpawn{
				EntityID:  p.ID,
				Kind:      game.KindShip,
				OwnerID:   p.ID,
				Transform: p.Transform,
			}, now)
		}
		c.mu.Unlock()
		c.emit(Event{Type: EventMemberJoined, MemberID: p.ID})

	case protocol.TypeMemberLeft:
		var p protocol.MemberLeft
		if !c.decodeOrDrop(env, &p) {
			return
		}
		c.mu.Lock()
		delete(c.members, p.ID)
		delete(c.encoders, p.ID)
		var removed []string
		if c.registry != nil {
			removed = c.registry.DestroyOwnedBy(p.ID)
		}
		c.mu.Unlock()
		c.peers.ClosePeer(p.ID)
		c.emit(Event{Type: EventMemberLeft, MemberID: p.ID})
		for _, id := range removed {
			c.emit(Event{Type: EventEntityDestroyed, EntityID: id})
		}

	case protocol.TypeMemberUpdate:
		var p protocol.MemberUpdate
		if !c.decodeOrDrop(env, &p) {
			return
		}
		c.applySnapshot(p.ID, env.From, game.Snapshot{
			T: c.clock(), Pos: p.Pos, Rot: p.Rot, Vel: p.Vel,
		})

	case protocol.TypeNegotiateOffer:
		var p protocol.NegotiateOffer
		if c.decodeOrDrop(env, &p) {
			if err := c.peers.HandleOffer(env.From, p.SDP); err != nil {
				c.log.Warn().Err(err).Msg("handle offer")
			}
		}

	case protocol.TypeNegotiateAnswer:
		var p protocol.NegotiateAnswer
		if c.decodeOrDrop(env, &p) {
			if err := c.peers.HandleAnswer(env.From, p.SDP); err != nil {
				c.log.Warn().Err(err).Msg("handle answer")
			}
		}

	case protocol.TypeNegotiateCandidate:
		var p protocol.NegotiateCandidate
		if c.decodeOrDrop(env, &p) {
			if err := c.peers.HandleCandidate(env.From, p); err != nil {
				c.log.Debug().Err(err).Msg("handle candidate")
			}
		}

	case protocol.TypePositionFull:
		var p protocol.PositionFull
		if c.decodeOrDrop(env, &p) {
			c.applyFull(env.From, p)
		}

	case protocol.TypePositionDelta:
		var p protocol.PositionDelta
		if c.decodeOrDrop(env, &p) {
			c.applyDelta(env.From, p)
		}

	case protocol.TypeEntitySpawn:
		var p protocol.EntitySpawn
		if !c.decodeOrDrop(env, &p) {
			return
		}
		c.mu.Lock()
		var spawned *Entity
		if c.registry != nil {
			spawned = c.registry.ApplySpawn(p, c.clock())
		}
		c.mu.Unlock()
		if spawned != nil {
			c.emit(Event{Type: EventEntitySpawned, EntityID: p.EntityID})
		}

	case protocol.TypeEntityDestroy:
		var p protocol.EntityDestroy
		if !c.decodeOrDrop(env, &p) {
			return
		}
		c.mu.Lock()
		existed := c.registry != nil && c.registry.ApplyDestroy(p.EntityID)
		c.decoder.Forget(p.EntityID)
		c.mu.Unlock()
		if existed {
			c.emit(Event{Type: EventEntityDestroyed, EntityID: p.EntityID})
		}

	case protocol.TypeClaimStarted:
		var p protocol.ClaimStarted
		if !c.decodeOrDrop(env, &p) {
			return
		}
		c.mu.Lock()
		selfID := c.id
		c.mu.Unlock()
		if p.HolderID == selfID {
			c.emit(Event{Type: EventClaimAccepted, HolderID: p.HolderID, ObjectIDs: p.ObjectIDs})
		}
		c.emit(Event{Type: EventClaimStarted, HolderID: p.HolderID, ObjectIDs: p.ObjectIDs})

	case protocol.TypeClaimStopped:
		var p protocol.ClaimStopped
		if !c.decodeOrDrop(env, &p) {
			return
		}
		c.destroyObjects(p.ObjectIDs)
		c.emit(Event{Type: EventClaimStopped, HolderID: p.HolderID, ObjectIDs: p.ObjectIDs})

	case protocol.TypeClaimPhysics:
		var p protocol.ClaimPhysics
		if !c.decodeOrDrop(env, &p) {
			return
		}
		now := c.clock()
		c.mu.Lock()
		if c.registry != nil {
			for _, up := range p.Objects {
				c.registry.ApplyArbiter(up, now)
			}
		}
		c.mu.Unlock()

	case protocol.TypeClaimCollected:
		var p protocol.ClaimCollected
		if !c.decodeOrDrop(env, &p) {
			return
		}
		pos := p.HolderPos
		if pos == nil {
			// No server hint: synthesize a return point just above the
			// holder's last rendered position.
			if snap, ok := c.ReadState(p.HolderID); ok {
				synth := snap.Pos.Add(game.Vec2{Y: -40})
				pos = &synth
			}
		}
		c.destroyObjects([]string{p.ObjectID})
		c.emit(Event{Type: EventCollected, EntityID: p.ObjectID, HolderID: p.HolderID, Pos: pos})

	case protocol.TypeClaimReleased:
		var p protocol.ClaimReleased
		if !c.decodeOrDrop(env, &p) {
			return
		}
		c.destroyObjects([]string{p.ObjectID})
		c.emit(Event{Type: EventReleased, EntityID: p.ObjectID, HolderID: p.HolderID})

	case protocol.TypeChat:
		var p protocol.Chat
		if c.decodeOrDrop(env, &p) {
			c.emit(Event{Type: EventChat, MemberID: env.From, Name: p.Name, Text: p.Text})
		}

	default:
		c.log.Debug().Str("type", env.Type).Msg("ignoring unknown envelope")
	}
}

// handlePeer routes data-channel frames into the same handlers as relay
// traffic. Only high-frequency types are expected here.
func (c *Client) handlePeer(env protocol.PeerEnvelope) {
	switch env.Type {
	case protocol.TypePositionFull:
		var p protocol.PositionFull
		if err := env.DecodePayload(&p); err != nil {
			c.log.Warn().Err(err).Msg("dropping peer frame")
			return
		}
		c.applyFull(env.From, p)
	case protocol.TypePositionDelta:
		var p protocol.PositionDelta
		if err := env.DecodePayload(&p); err != nil {
			c.log.Warn().Err(err).Msg("dropping peer frame")
			return
		}
		c.applyDelta(env.From, p)
	default:
		c.log.Debug().Str("type", env.Type).Msg("ignoring unknown peer frame")
	}
}

/* ------------------------------ Internals ------------------------------ */

func (c *Client) applyFull(from string, p protocol.PositionFull) {
	c.mu.Lock()
	tr, kind, ok := c.decoder.ApplyFull(p)
	if !ok {
		c.mu.Unlock()
		return
	}
	if c.registry != nil && c.registry.Get(p.EntityID) == nil && from != "" {
		// Transform stream for an entity we have not seen spawn; register
		// it so the stream is not lost (the spawn may have raced us).
		c.registry.ApplySpawn(protocol.EntitySpawn{
			EntityID:  p.EntityID,
			Kind:      kind,
			OwnerID:   from,
			Transform: tr,
		}, c.clock())
	}
	c.mu.Unlock()
	c.applySnapshot(p.EntityID, from, game.Snapshot{
		T: c.clock(), Pos: tr.Pos, Rot: tr.Rot, Vel: tr.Vel, Thrust: p.Thrust,
	})
}

func (c *Client) applyDelta(from string, p protocol.PositionDelta) {
	c.mu.Lock()
	tr, _, ok := c.decoder.ApplyDelta(p)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.applySnapshot(p.EntityID, from, game.Snapshot{
		T: c.clock(), Pos: tr.Pos, Rot: tr.Rot, Vel: tr.Vel, Thrust: p.Thrust,
	})
}

func (c *Client) applySnapshot(entityID, from string, s game.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registry == nil {
		return
	}
	c.registry.ApplyRemote(entityID, from, s)
}

func (c *Client) destroyObjects(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registry == nil {
		return
	}
	for _, id := range ids {
		c.registry.ApplyDestroy(id)
	}
}

func (c *Client) encoderFor(remoteID string) *Encoder {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc, ok := c.encoders[remoteID]
	if !ok {
		enc = NewEncoder()
		c.encoders[remoteID] = enc
	}
	return enc
}

// sendPeerOrRelay prefers the peer channel and falls back to the relay;
// callers never learn which path carried the message.
func (c *Client) sendPeerOrRelay(remoteID, typ string, payload any) {
	err := c.peers.Send(remoteID, typ, payload)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrNoPeerChannel) {
		c.log.Debug().Err(err).Str("remote", remoteID).Msg("peer send failed, using relay")
	}
	c.sendRelayTo(remoteID, typ, payload)
}

func (c *Client) sendRelayTo(to, typ string, payload any) {
	env, err := protocol.Pack(typ, payload)
	if err != nil {
		c.log.Warn().Err(err).Str("type", typ).Msg("pack")
		return
	}
	env.To = to
	if err := c.relay.Send(env); err != nil {
		c.log.Warn().Err(err).Str("type", typ).Msg("relay send")
	}
}

func (c *Client) decodeOrDrop(env protocol.Envelope, out any) bool {
	if err := env.Decode(out); err != nil {
		c.log.Warn().Err(err).Str("type", env.Type).Msg("dropping envelope")
		return false
	}
	return true
}

func (c *Client) emit(e Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(e)
	}
}
