package client

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"scrapdrift/internal/game"
	"scrapdrift/internal/protocol"
)

// fakeRelay records outbound envelopes in place of a websocket.
type fakeRelay struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (f *fakeRelay) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeRelay) Close() error { return nil }

func (f *fakeRelay) ofType(typ string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *fakeRelay, *eventLog) {
	t.Helper()
	relay := &fakeRelay{}
	events := &eventLog{}
	c := New(Config{OnEvent: events.record, Log: zerolog.Nop()})
	c.relay = relay
	c.peers = NewPeerManager("", relay.Send, c.handlePeer, zerolog.Nop())
	c.clock = func() float64 { return 100 }
	return c, relay, events
}

func welcome(t *testing.T, c *Client, id string) {
	t.Helper()
	env, err := protocol.Pack(protocol.TypeWelcome, protocol.Welcome{ID: id})
	if err != nil {
		t.Fatal(err)
	}
	c.handleEnvelope(env)
	if c.ID() != id {
		t.Fatalf("welcome did not set id, got %q", c.ID())
	}
}

func deliver(t *testing.T, c *Client, typ string, payload any, from string) {
	t.Helper()
	env, err := protocol.Pack(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	env.From = from
	c.handleEnvelope(env)
}

func TestWelcomeUnblocksJoin(t *testing.T) {
	c, _, _ := newTestClient(t)
	welcome(t, c, "me")
	select {
	case <-c.welcomed:
	default:
		t.Error("welcome must unblock the join")
	}
	if c.Registry() == nil {
		t.Error("registry must exist after welcome")
	}
}

func TestDuplicateWelcomeIgnored(t *testing.T) {
	c, _, _ := newTestClient(t)
	welcome(t, c, "me")
	c.Registry().SpawnLocal("ship-me", game.KindShip, game.Transform{}, nil, 0)

	env, err := protocol.Pack(protocol.TypeWelcome, protocol.Welcome{ID: "other"})
	if err != nil {
		t.Fatal(err)
	}
	c.handleEnvelope(env)

	if c.ID() != "me" {
		t.Errorf("repeated welcome must not change identity, got %q", c.ID())
	}
	if c.Registry().Get("ship-me") == nil {
		t.Error("repeated welcome must not reset the registry")
	}
}

func TestPublishMemberUpdateRidesRelay(t *testing.T) {
	c, relay, _ := newTestClient(t)
	welcome(t, c, "me")

	c.PublishMemberUpdate(game.Transform{Pos: game.Vec2{X: 7}, Rot: 0.5})

	got := relay.ofType(protocol.TypeMemberUpdate)
	if len(got) != 1 {
		t.Fatalf("want 1 member-update on the relay, got %d", len(got))
	}
	if got[0].To != "" {
		t.Errorf("member-update addresses the whole room, got To=%q", got[0].To)
	}
	var p protocol.MemberUpdate
	if err := got[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Pos.X != 7 || p.Rot != 0.5 {
		t.Errorf("pose mangled: %+v", p)
	}

	// Immediate repeats are rate limited; a later clock sends again.
	c.PublishMemberUpdate(game.Transform{Pos: game.Vec2{X: 8}})
	if n := len(relay.ofType(protocol.TypeMemberUpdate)); n != 1 {
		t.Errorf("repeat inside the send interval must be dropped, got %d", n)
	}
	c.clock = func() float64 { return 101 }
	c.PublishMemberUpdate(game.Transform{Pos: game.Vec2{X: 9}})
	if n := len(relay.ofType(protocol.TypeMemberUpdate)); n != 2 {
		t.Errorf("later update should send, got %d", n)
	}
}

func TestMemberLifecycleEvents(t *testing.T) {
	c, _, events := newTestClient(t)
	welcome(t, c, "me")

	deliver(t, c, protocol.TypeMemberJoined, protocol.MemberJoined{ID: "p2"}, "")
	if got := events.ofType(EventMemberJoined); len(got) != 1 || got[0].MemberID != "p2" {
		t.Fatalf("member-joined event missing: %+v", got)
	}
	if c.Registry().Get("p2") == nil {
		t.Fatal("joined member must appear as a ship entity")
	}

	// A member's entities vanish with the member.
	deliver(t, c, protocol.TypeEntitySpawn, protocol.EntitySpawn{
		EntityID: "proj-1", Kind: game.KindProjectile, OwnerID: "p2",
	}, "p2")
	deliver(t, c, protocol.TypeMemberLeft, protocol.MemberLeft{ID: "p2"}, "")

	if got := events.ofType(EventMemberLeft); len(got) != 1 {
		t.Fatalf("member-left event missing: %+v", got)
	}
	if c.Registry().Get("p2") != nil || c.Registry().Get("proj-1") != nil {
		t.Error("entities of a departed member must be destroyed")
	}
	if len(events.ofType(EventEntityDestroyed)) != 2 {
		t.Error("each destroyed entity must produce an event")
	}
}

func TestUnseenTransformStreamRegistersEntity(t *testing.T) {
	c, _, _ := newTestClient(t)
	welcome(t, c, "me")

	deliver(t, c, protocol.TypePositionFull, protocol.PositionFull{
		EntityID: "drone-9",
		Kind:     game.KindEnemy,
		Pos:      game.Vec2{X: 5},
		Seq:      1,
	}, "p2")

	e := c.Registry().Get("drone-9")
	if e == nil {
		t.Fatal("stream for an unseen entity must register it")
	}
	if e.OwnerID != "p2" || e.Kind != game.KindEnemy {
		t.Errorf("registered with wrong identity: %+v", e)
	}
}

func TestClaimAcceptedOnlyForSelf(t *testing.T) {
	c, _, events := newTestClient(t)
	welcome(t, c, "me")

	deliver(t, c, protocol.TypeClaimStarted, protocol.ClaimStarted{
		HolderID: "me", ObjectIDs: []string{"j1"},
	}, "")
	deliver(t, c, protocol.TypeClaimStarted, protocol.ClaimStarted{
		HolderID: "p2", ObjectIDs: []string{"j2"},
	}, "")

	accepted := events.ofType(EventClaimAccepted)
	if len(accepted) != 1 || accepted[0].HolderID != "me" {
		t.Errorf("accepted event only for our own claims: %+v", accepted)
	}
	if len(events.ofType(EventClaimStarted)) != 2 {
		t.Error("every claim-started should surface")
	}
}

func TestCollectedSynthesizesReturnHint(t *testing.T) {
	c, _, events := newTestClient(t)
	welcome(t, c, "me")

	deliver(t, c, protocol.TypeMemberJoined, protocol.MemberJoined{
		ID:        "p2",
		Transform: game.Transform{Pos: game.Vec2{X: 300, Y: 80}},
	}, "")
	deliver(t, c, protocol.TypeClaimPhysics, protocol.ClaimPhysics{
		Objects: []game.ObjectUpdate{{ID: "j1", Pos: game.Vec2{X: 310}, HolderID: "p2"}},
	}, "")

	deliver(t, c, protocol.TypeClaimCollected, protocol.ClaimCollected{
		ObjectID: "j1", HolderID: "p2",
	}, "")

	got := events.ofType(EventCollected)
	if len(got) != 1 {
		t.Fatalf("want 1 collected event, got %d", len(got))
	}
	if got[0].Pos == nil {
		t.Fatal("missing server hint must be synthesized from the holder's position")
	}
	if got[0].Pos.X != 300 || got[0].Pos.Y != 40 {
		t.Errorf("hint should sit above the holder, got %+v", *got[0].Pos)
	}
	if c.Registry().Get("j1") != nil {
		t.Error("collected object must leave the registry")
	}
}

func TestServerHintPreferredWhenPresent(t *testing.T) {
	c, _, events := newTestClient(t)
	welcome(t, c, "me")

	hint := game.Vec2{X: 1, Y: 2}
	deliver(t, c, protocol.TypeClaimCollected, protocol.ClaimCollected{
		ObjectID: "j1", HolderID: "p2", HolderPos: &hint,
	}, "")

	got := events.ofType(EventCollected)
	if len(got) != 1 || got[0].Pos == nil || *got[0].Pos != hint {
		t.Errorf("server hint must pass through untouched: %+v", got)
	}
}

func TestPublishFallsBackToRelay(t *testing.T) {
	c, relay, _ := newTestClient(t)
	welcome(t, c, "me")
	deliver(t, c, protocol.TypeMemberJoined, protocol.MemberJoined{ID: "p2"}, "")

	tr := game.Transform{Pos: game.Vec2{X: 10}}
	c.PublishTransform("ship-me", game.KindShip, tr, false)

	fulls := relay.ofType(protocol.TypePositionFull)
	if len(fulls) != 1 {
		t.Fatalf("without a peer channel the transform must ride the relay, got %d fulls", len(fulls))
	}
	if fulls[0].To != "p2" {
		t.Errorf("relay fallback must be addressed, got To=%q", fulls[0].To)
	}
	var p protocol.PositionFull
	if err := fulls[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.EntityID != "ship-me" || p.Pos.X != 10 {
		t.Errorf("payload mangled: %+v", p)
	}
}

func TestClaimStoppedRemovesObjects(t *testing.T) {
	c, _, events := newTestClient(t)
	welcome(t, c, "me")

	deliver(t, c, protocol.TypeClaimPhysics, protocol.ClaimPhysics{
		Objects: []game.ObjectUpdate{{ID: "j1", HolderID: "p2"}},
	}, "")
	if c.Registry().Get("j1") == nil {
		t.Fatal("arbiter update should register the object")
	}

	deliver(t, c, protocol.TypeClaimStopped, protocol.ClaimStopped{
		HolderID: "p2", ObjectIDs: []string{"j1"},
	}, "")
	if c.Registry().Get("j1") != nil {
		t.Error("stopped claim removes its objects")
	}
	if len(events.ofType(EventClaimStopped)) != 1 {
		t.Error("claim-stopped must surface as an event")
	}
}
