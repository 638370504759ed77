package client

import (
	"sort"

	"scrapdrift/internal/game"
)

// SnapshotBuffer holds recent observed states for one remote entity and
// serves a delayed, interpolated read-out. Reading slightly in the past
// means two bracketing snapshots are usually available, which hides
// irregular arrival without visible stutter.
type SnapshotBuffer struct {
	kind  game.Kind
	snaps []game.Snapshot // ascending by T

	delay   float64
	base    float64
	meanDt  float64
	jitter  float64
	lastArr float64
	arrived int
}

func NewSnapshotBuffer(kind game.Kind) *SnapshotBuffer {
	base := game.ProfileFor(kind).Delay
	return &SnapshotBuffer{kind: kind, delay: base, base: base}
}

// Delay reports the current adaptive read delay in seconds.
func (b *SnapshotBuffer) Delay() float64 { return b.delay }

func (b *SnapshotBuffer) Len() int { return len(b.snaps) }

// Add inserts a snapshot in sorted position. Out-of-order arrivals land
// where their timestamp says, not at the end.
func (b *SnapshotBuffer) Add(s game.Snapshot) {
	i := sort.Search(len(b.snaps), func(i int) bool { return b.snaps[i].T > s.T })
	b.snaps = append(b.snaps, game.Snapshot{})
	copy(b.snaps[i+1:], b.snaps[i:])
	b.snaps[i] = s
	b.observeArrival(s.T)
}

// observeArrival tracks inter-arrival jitter and adapts the read delay:
// raised under jittery delivery, lowered back toward the kind baseline when
// delivery is steady, always clamped to the allowed window.
func (b *SnapshotBuffer) observeArrival(t float64) {
	if b.arrived > 0 {
		dt := t - b.lastArr
		if dt > 0 {
			if b.meanDt == 0 {
				b.meanDt = dt
			} else {
				dev := dt - b.meanDt
				if dev < 0 {
					dev = -dev
				}
				b.jitter += (dev - b.jitter) * 0.25
				b.meanDt += (dt - b.meanDt) * 0.125
			}
			b.delay = game.Clamp(b.base+2*b.jitter, game.BufferDelayMin, game.BufferDelayMax)
		}
	}
	b.lastArr = t
	b.arrived++
}

// Read returns the rendering state for the given clock, or false when the
// buffer has nothing usable. Entries older than the retention window are
// pruned first.
func (b *SnapshotBuffer) Read(now float64) (game.Snapshot, bool) {
	b.prune(now - game.SnapshotKeep)
	if len(b.snaps) == 0 {
		return game.Snapshot{}, false
	}
	target := now - b.delay

	// Find the first snapshot at or after target.
	i := sort.Search(len(b.snaps), func(i int) bool { return b.snaps[i].T >= target })
	if i > 0 && i < len(b.snaps) {
		return interpolate(b.snaps[i-1], b.snaps[i], target), true
	}
	if i == 0 {
		// Target precedes everything buffered; the oldest state is the
		// best available answer.
		return b.snaps[0], true
	}

	// Target is past the newest snapshot: extrapolate briefly from it,
	// with damped velocity to limit overshoot, then hold it as-is.
	last := b.snaps[len(b.snaps)-1]
	age := target - last.T
	if age > 0 && age <= game.ExtrapolateLimit {
		out := last
		out.T = target
		out.Pos = last.Pos.Add(last.Vel.Scale(age * game.ExtrapolateDamping))
		return out, true
	}
	return last, true
}

func (b *SnapshotBuffer) prune(before float64) {
	n := 0
	for n < len(b.snaps) && b.snaps[n].T < before {
		n++
	}
	if n > 0 {
		b.snaps = append(b.snaps[:0], b.snaps[n:]...)
	}
}

// interpolate blends two bracketing snapshots at target. The fraction is
// smoothstep-eased so velocity does not jump at snapshot boundaries;
// rotation takes the shortest angular path; the thrust flag flips at the
// midpoint instead of blending.
func interpolate(a, b game.Snapshot, target float64) game.Snapshot {
	if b.T == a.T {
		return a
	}
	frac := (target - a.T) / (b.T - a.T)
	eased := game.Smoothstep(frac)
	out := game.Snapshot{
		T:      target,
		Pos:    game.LerpVec(a.Pos, b.Pos, eased),
		Vel:    game.LerpVec(a.Vel, b.Vel, eased),
		Rot:    game.LerpAngle(a.Rot, b.Rot, eased),
		Thrust: a.Thrust,
	}
	if eased >= 0.5 {
		out.Thrust = b.Thrust
	}
	return out
}
