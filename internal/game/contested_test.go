package game

import (
	"math"
	"testing"
)

func TestClaimFirstComeFirstServed(t *testing.T) {
	s := NewContestedSet(DefaultClaimTuning())

	p := Vec2{X: 100, Y: 100}
	got := s.StartClaim("a", []string{"j1", "j2"}, []Vec2{{X: 150, Y: 100}, {X: 160, Y: 100}}, p)
	if len(got) != 2 {
		t.Fatalf("first claimant: expected [j1 j2], got %v", got)
	}

	got = s.StartClaim("b", []string{"j1"}, nil, Vec2{X: 90, Y: 100})
	if len(got) != 0 {
		t.Errorf("second claimant should obtain nothing, got %v", got)
	}
	if obj := s.Object("j1"); obj == nil || obj.HolderID != "a" {
		t.Errorf("j1 should stay held by a")
	}
}

func TestClaimCreatesUnknownObjects(t *testing.T) {
	s := NewContestedSet(DefaultClaimTuning())
	got := s.StartClaim("a", []string{"j9"}, []Vec2{{X: 50}}, Vec2{})
	if len(got) != 1 || got[0] != "j9" {
		t.Fatalf("expected j9 accepted, got %v", got)
	}
	obj := s.Object("j9")
	if obj == nil {
		t.Fatal("j9 not registered")
	}
	if obj.Pos.X != 50 {
		t.Errorf("object should spawn at the reported position, got %+v", obj.Pos)
	}
	if obj.State != ClaimHeld {
		t.Errorf("object should be held, state=%d", obj.State)
	}
}

func TestReclaimBySameHolderRetargets(t *testing.T) {
	s := NewContestedSet(DefaultClaimTuning())
	s.StartClaim("a", []string{"j1"}, []Vec2{{X: 100}}, Vec2{})
	got := s.StartClaim("a", []string{"j1"}, nil, Vec2{X: 10, Y: 10})
	if len(got) != 1 {
		t.Fatalf("re-claim by the holder should succeed, got %v", got)
	}
	if tgt := s.Object("j1").Target; tgt.X != 10 || tgt.Y != 10 {
		t.Errorf("target should follow the new holder position, got %+v", tgt)
	}
}

func TestReleaseAtMaxRange(t *testing.T) {
	tuning := DefaultClaimTuning()
	s := NewContestedSet(tuning)
	// Object exactly at the release range; the next step must release it,
	// not integrate it.
	s.StartClaim("a", []string{"j1"}, []Vec2{{X: tuning.MaxRange}}, Vec2{})

	results := s.Advance(Dt)
	if len(results) != 1 {
		t.Fatalf("expected one step result, got %d", len(results))
	}
	res := results[0]
	if len(res.Released) != 1 || res.Released[0].ObjectID != "j1" {
		t.Fatalf("expected j1 released, got %+v", res.Released)
	}
	if len(res.Updates) != 0 {
		t.Errorf("released object must not also emit a position update: %+v", res.Updates)
	}
	if s.Len() != 0 {
		t.Errorf("released object should leave the active set")
	}
}

func TestCollectWithinEpsilon(t *testing.T) {
	tuning := DefaultClaimTuning()
	s := NewContestedSet(tuning)
	s.StartClaim("a", []string{"j1"}, []Vec2{{X: tuning.CollectEps * 0.5}}, Vec2{})

	results := s.Advance(Dt)
	if len(results) != 1 {
		t.Fatalf("expected one step result, got %d", len(results))
	}
	if len(results[0].Collected) != 1 || results[0].Collected[0].HolderID != "a" {
		t.Fatalf("expected j1 collected by a, got %+v", results[0].Collected)
	}
	if s.Len() != 0 {
		t.Errorf("collected object should leave the active set")
	}
}

func TestStopClaimRemovesHeldObjects(t *testing.T) {
	s := NewContestedSet(DefaultClaimTuning())
	s.StartClaim("a", []string{"j1", "j2"}, []Vec2{{X: 200}, {X: 300}}, Vec2{})
	s.StartClaim("b", []string{"j3"}, []Vec2{{X: 400}}, Vec2{})

	dropped := s.StopClaim("a")
	if len(dropped) != 2 {
		t.Fatalf("expected both of a's objects dropped, got %v", dropped)
	}
	if s.Len() != 1 {
		t.Errorf("b's object should survive, len=%d", s.Len())
	}
	if s.Object("j3") == nil {
		t.Errorf("j3 should still be held by b")
	}
}

func TestPullApproachesTarget(t *testing.T) {
	s := NewContestedSet(DefaultClaimTuning())
	start := Vec2{X: 800}
	s.StartClaim("a", []string{"j1"}, []Vec2{start}, Vec2{})

	prev := start.Len()
	for i := 0; i < 4; i++ {
		results := s.Advance(0.25)
		if len(results) == 0 {
			// Object was collected mid-window.
			if s.Len() != 0 {
				t.Fatalf("no step results while object still active")
			}
			return
		}
		obj := s.Object("j1")
		if obj == nil {
			return // collected
		}
		d := obj.Pos.Len()
		if d >= prev {
			t.Fatalf("hold window %d: distance %.2f did not shrink from %.2f", i, d, prev)
		}
		prev = d
	}
}

func TestAdvanceUsesFixedSteps(t *testing.T) {
	s := NewContestedSet(DefaultClaimTuning())
	s.StartClaim("a", []string{"j1"}, []Vec2{{X: 900}}, Vec2{})

	// 2.5 steps of wall clock: exactly two simulation steps now, the
	// remaining half step carries over into the next call.
	results := s.Advance(2.5 * Dt)
	if len(results) != 2 {
		t.Fatalf("expected 2 step results for 2.5 ticks, got %d", len(results))
	}
	results = s.Advance(0.6 * Dt)
	if len(results) != 1 {
		t.Fatalf("expected the carried half step to complete, got %d results", len(results))
	}
}

func TestVelocityRespectsCap(t *testing.T) {
	tuning := DefaultClaimTuning()
	s := NewContestedSet(tuning)
	s.StartClaim("a", []string{"j1"}, []Vec2{{X: 1200}}, Vec2{})

	for i := 0; i < 120; i++ {
		s.Advance(Dt)
		obj := s.Object("j1")
		if obj == nil {
			return
		}
		if v := obj.Vel.Len(); v > tuning.SpeedMax+1e-9 {
			t.Fatalf("tick %d: velocity %.2f exceeds cap %.2f", i, v, tuning.SpeedMax)
		}
	}
}

func TestUpdateHolderRetargetsAllHeld(t *testing.T) {
	s := NewContestedSet(DefaultClaimTuning())
	s.StartClaim("a", []string{"j1", "j2"}, []Vec2{{X: 200}, {X: 300}}, Vec2{})
	s.UpdateHolder("a", Vec2{X: 500, Y: 500})
	for _, id := range []string{"j1", "j2"} {
		tgt := s.Object(id).Target
		if tgt.X != 500 || tgt.Y != 500 {
			t.Errorf("%s target not moved: %+v", id, tgt)
		}
	}
}

func TestLerpAngleShortestPath(t *testing.T) {
	a := 0.1
	b := 2*math.Pi - 0.1
	mid := LerpAngle(a, b, 0.5)
	// Shortest path crosses zero, so the midpoint is at (or near) 0, not pi.
	if math.Abs(math.Sin(mid)) > 1e-9 || math.Cos(mid) < 0.99 {
		t.Errorf("midpoint should sit at the wraparound, got %.4f", mid)
	}
}
