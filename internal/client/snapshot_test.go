package client

import (
	"math"
	"testing"

	"scrapdrift/internal/game"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestInterpolateMidpoint(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	b.Add(game.Snapshot{T: 0.0, Pos: game.Vec2{}})
	b.Add(game.Snapshot{T: 0.100, Pos: game.Vec2{X: 10}})

	// delay 100ms -> target 50ms -> fraction 0.5 (smoothstep(0.5) == 0.5).
	got, ok := b.Read(0.150)
	if !ok {
		t.Fatal("expected a readable state")
	}
	if !almostEqual(got.Pos.X, 5) || !almostEqual(got.Pos.Y, 0) {
		t.Errorf("expected (5,0), got (%.4f,%.4f)", got.Pos.X, got.Pos.Y)
	}
}

func TestInterpolationConvexAndMonotonic(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	b.Add(game.Snapshot{T: 0.0, Pos: game.Vec2{X: 2}})
	b.Add(game.Snapshot{T: 0.100, Pos: game.Vec2{X: 12}})

	prev := math.Inf(-1)
	for now := 0.100; now <= 0.200+1e-9; now += 0.010 {
		got, ok := b.Read(now)
		if !ok {
			t.Fatalf("read(%.3f) failed", now)
		}
		if got.Pos.X < 2-1e-9 || got.Pos.X > 12+1e-9 {
			t.Errorf("read(%.3f): %.4f outside the segment [2,12]", now, got.Pos.X)
		}
		if got.Pos.X < prev-1e-9 {
			t.Errorf("read(%.3f): weight not monotonic (%.4f < %.4f)", now, got.Pos.X, prev)
		}
		prev = got.Pos.X
	}
}

func TestOutOfOrderInsert(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	b.Add(game.Snapshot{T: 0.200, Pos: game.Vec2{X: 20}})
	b.Add(game.Snapshot{T: 0.100, Pos: game.Vec2{X: 10}})
	b.Add(game.Snapshot{T: 0.0, Pos: game.Vec2{}})

	got, ok := b.Read(0.150)
	if !ok {
		t.Fatal("expected a readable state")
	}
	// target 50ms sits between the two earliest snapshots regardless of
	// arrival order.
	if !almostEqual(got.Pos.X, 5) {
		t.Errorf("expected 5 at the midpoint, got %.4f", got.Pos.X)
	}
}

func TestThrustFlagSwitchesAtMidpoint(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	b.Add(game.Snapshot{T: 0.0, Thrust: false})
	b.Add(game.Snapshot{T: 0.100, Thrust: true})

	before, _ := b.Read(0.140) // fraction 0.4
	if before.Thrust {
		t.Errorf("flag should not blend early")
	}
	after, _ := b.Read(0.160) // fraction 0.6
	if !after.Thrust {
		t.Errorf("flag should switch past the midpoint")
	}
}

func TestExtrapolationIsDamped(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	b.Add(game.Snapshot{T: 0.0, Pos: game.Vec2{}, Vel: game.Vec2{X: 100}})

	got, ok := b.Read(0.200) // target 100ms past the only snapshot
	if !ok {
		t.Fatal("expected a readable state")
	}
	want := 100 * 0.100 * game.ExtrapolateDamping
	if !almostEqual(got.Pos.X, want) {
		t.Errorf("expected damped extrapolation to %.4f, got %.4f", want, got.Pos.X)
	}
}

func TestStaleSnapshotNotExtrapolated(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	b.Add(game.Snapshot{T: 0.0, Pos: game.Vec2{X: 7}, Vel: game.Vec2{X: 100}})

	got, ok := b.Read(0.900) // target 800ms old: beyond the extrapolation window
	if !ok {
		t.Fatal("expected a readable state")
	}
	if !almostEqual(got.Pos.X, 7) {
		t.Errorf("stale snapshot should be returned as-is, got %.4f", got.Pos.X)
	}
}

func TestPruneOldEntries(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	b.Add(game.Snapshot{T: 0.0})
	b.Add(game.Snapshot{T: 2.500})

	if _, ok := b.Read(3.000); !ok {
		t.Fatal("expected a readable state")
	}
	if b.Len() != 1 {
		t.Errorf("entries older than the retention window should be pruned, len=%d", b.Len())
	}
}

func TestAdaptiveDelayStaysClamped(t *testing.T) {
	b := NewSnapshotBuffer(game.KindShip)
	// Wildly jittery arrivals.
	ts := []float64{0, 0.020, 0.320, 0.340, 0.640, 0.660, 0.980}
	for _, ti := range ts {
		b.Add(game.Snapshot{T: ti})
	}
	if d := b.Delay(); d < game.BufferDelayMin || d > game.BufferDelayMax {
		t.Errorf("delay %.3f outside [%.3f, %.3f]", d, game.BufferDelayMin, game.BufferDelayMax)
	}
	if d := b.Delay(); d <= game.BufferDelayDefault {
		t.Errorf("high jitter should raise the delay above the default, got %.3f", d)
	}

	// Steady arrivals pull it back down toward the kind baseline.
	steady := NewSnapshotBuffer(game.KindShip)
	for i := 0; i < 50; i++ {
		steady.Add(game.Snapshot{T: float64(i) * 0.050})
	}
	if d := steady.Delay(); !almostEqual(d, game.BufferDelayDefault) {
		t.Errorf("steady arrivals should keep the baseline delay, got %.3f", d)
	}
}

func TestKindProfilesOrdering(t *testing.T) {
	junk := game.ProfileFor(game.KindJunk)
	proj := game.ProfileFor(game.KindProjectile)
	ship := game.ProfileFor(game.KindShip)
	if !(junk.Delay > ship.Delay && ship.Delay > proj.Delay) {
		t.Errorf("expected junk > ship > projectile delays, got %v %v %v", junk.Delay, ship.Delay, proj.Delay)
	}
	if !(proj.Gain > ship.Gain && ship.Gain > junk.Gain) {
		t.Errorf("expected projectile > ship > junk gain, got %v %v %v", proj.Gain, ship.Gain, junk.Gain)
	}
}
