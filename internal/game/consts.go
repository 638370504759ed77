package game

/* ------------------------------ Tuning ------------------------------ */

const (
	// Server room simulation.
	TickHz = 60.0
	Dt     = 1.0 / TickHz

	// Contested-object pull physics. Force and speed cap both grow with
	// hold time so a sustained claim reels junk in faster than a snap-claim.
	ClaimCollectEps  = 30.0   // units: close enough to the holder to collect
	ClaimMaxRange    = 1600.0 // units: beyond this the object is released
	ClaimForceBase   = 220.0  // units/s^2 at the instant of the claim
	ClaimForceGrowth = 140.0  // units/s^2 gained per second held
	ClaimForceMax    = 900.0
	ClaimSpeedBase   = 160.0 // units/s cap at the instant of the claim
	ClaimSpeedGrowth = 120.0 // units/s gained per second held
	ClaimSpeedMax    = 640.0
	ClaimDamping     = 0.92 // velocity multiplier applied every step

	// Interpolation.
	BufferDelayDefault = 0.100 // seconds subtracted from now before a read
	BufferDelayMin     = 0.050
	BufferDelayMax     = 0.200
	SnapshotKeep       = 1.0 // seconds of history retained per buffer
	ExtrapolateLimit   = 0.5 // max snapshot age eligible for extrapolation
	ExtrapolateDamping = 0.6 // velocity scale while extrapolating

	// Delta codec suppression thresholds.
	DeltaPosEpsSq  = 0.25 * 0.25 // squared units
	DeltaRotEps    = 0.01        // radians
	DeltaVelEpsSq  = 0.5 * 0.5   // squared units/s
	FullStateEvery = 30          // deltas between forced full states

	// Lifecycle timeouts.
	EntityTimeout  = 10.0 // seconds without an update before registry prune
	SessionTimeout = 30.0 // seconds without activity before directory sweep
)

// KindProfile tunes the snapshot buffer per entity kind: slow-moving kinds
// tolerate more delay in exchange for smoother motion, projectiles need the
// freshest read available.
type KindProfile struct {
	Delay float64 // baseline buffer delay in seconds
	Gain  float64 // consumer-side interpolation gain
}

var kindProfiles = map[Kind]KindProfile{
	KindShip:       {Delay: 0.100, Gain: 0.35},
	KindMaterial:   {Delay: 0.150, Gain: 0.20},
	KindJunk:       {Delay: 0.150, Gain: 0.20},
	KindProjectile: {Delay: 0.060, Gain: 0.60},
	KindEnemy:      {Delay: 0.100, Gain: 0.35},
	KindStructure:  {Delay: 0.200, Gain: 0.15},
}

func ProfileFor(k Kind) KindProfile {
	if p, ok := kindProfiles[k]; ok {
		return p
	}
	return KindProfile{Delay: BufferDelayDefault, Gain: 0.35}
}
