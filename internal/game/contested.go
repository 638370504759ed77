package game

/* ------------------------- Contested objects ------------------------- */

// The server is the single authority for claimable junk. A claim moves an
// object from free to held; held objects are pulled toward their holder by
// the fixed-step simulation until they are collected (close enough) or
// released (dragged out of range, or the holder vanished).

type ClaimState uint8

const (
	ClaimFree ClaimState = iota
	ClaimHeld
	ClaimCollected
	ClaimReleased
)

type ContestedObject struct {
	ID        string
	HolderID  string
	State     ClaimState
	Pos       Vec2
	Vel       Vec2
	Target    Vec2
	HeldSince float64
}

type ObjectUpdate struct {
	ID       string `json:"id" msgpack:"id"`
	Pos      Vec2   `json:"pos" msgpack:"p"`
	Vel      Vec2   `json:"vel" msgpack:"v"`
	HolderID string `json:"holderId" msgpack:"h"`
}

type ClaimOutcome struct {
	ObjectID string `json:"objectId" msgpack:"id"`
	HolderID string `json:"holderId" msgpack:"h"`
}

// StepResult is the authoritative output of one physics step. Consumers
// receive it as a single batch; a partial step is never observable.
type StepResult struct {
	Updates   []ObjectUpdate
	Collected []ClaimOutcome
	Released  []ClaimOutcome
}

func (r StepResult) empty() bool {
	return len(r.Updates) == 0 && len(r.Collected) == 0 && len(r.Released) == 0
}

type ClaimTuning struct {
	CollectEps  float64
	MaxRange    float64
	ForceBase   float64
	ForceGrowth float64
	ForceMax    float64
	SpeedBase   float64
	SpeedGrowth float64
	SpeedMax    float64
	Damping     float64
}

func DefaultClaimTuning() ClaimTuning {
	return ClaimTuning{
		CollectEps:  ClaimCollectEps,
		MaxRange:    ClaimMaxRange,
		ForceBase:   ClaimForceBase,
		ForceGrowth: ClaimForceGrowth,
		ForceMax:    ClaimForceMax,
		SpeedBase:   ClaimSpeedBase,
		SpeedGrowth: ClaimSpeedGrowth,
		SpeedMax:    ClaimSpeedMax,
		Damping:     ClaimDamping,
	}
}

type ContestedSet struct {
	tuning  ClaimTuning
	objects map[string]*ContestedObject
	now     float64
	acc     float64
}

func NewContestedSet(tuning ClaimTuning) *ContestedSet {
	return &ContestedSet{
		tuning:  tuning,
		objects: map[string]*ContestedObject{},
	}
}

func (s *ContestedSet) Len() int { return len(s.objects) }

func (s *ContestedSet) Object(id string) *ContestedObject { return s.objects[id] }

// StartClaim attempts a first-come-first-served claim on each id. Unknown
// ids are created as free objects at the matching position (or at the holder
// when none is given) and claimed immediately. Ids held by someone else are
// skipped. Returns the ids actually obtained.
func (s *ContestedSet) StartClaim(holderID string, ids []string, positions []Vec2, holderPos Vec2) []string {
	accepted := make([]string, 0, len(ids))
	for i, id := range ids {
		obj, ok := s.objects[id]
		if !ok {
			pos := holderPos
			if i < len(positions) {
				pos = positions[i]
			}
			obj = &ContestedObject{ID: id, Pos: pos}
			s.objects[id] = obj
		}
		if obj.State == ClaimHeld && obj.HolderID != holderID {
			continue
		}
		if obj.State != ClaimFree && obj.State != ClaimHeld {
			continue
		}
		if obj.State == ClaimFree {
			obj.State = ClaimHeld
			obj.HolderID = holderID
			obj.HeldSince = s.now
		}
		obj.Target = holderPos
		accepted = append(accepted, id)
	}
	return accepted
}

// StopClaim drops every object held by holderID out of the active set.
// Stopped objects are consumed or discarded by the surrounding game, so they
// are removed outright rather than returned to free.
func (s *ContestedSet) StopClaim(holderID string) []string {
	var dropped []string
	for id, obj := range s.objects {
		if obj.State == ClaimHeld && obj.HolderID == holderID {
			delete(s.objects, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// UpdateHolder moves the pull target of every object held by holderID.
func (s *ContestedSet) UpdateHolder(holderID string, pos Vec2) {
	for _, obj := range s.objects {
		if obj.State == ClaimHeld && obj.HolderID == holderID {
			obj.Target = pos
		}
	}
}

/// Advance runs the accumulator: however irregularly the caller ticks, the
// simulation advances in exact Dt steps. Each step that mutated at least one
// held object yields one StepResult.
func (s *ContestedSet) Advance(elapsed float64) []StepResult {
	s.acc += elapsed
	var results []StepResult
	for s.acc >= Dt {
		s.acc -= Dt
		s.now += Dt
		if res := s.step(); !res.empty() {
			results = append(results, res)
		}
	}
	return results
}

func (s *ContestedSet) step() StepResult {
	var res StepResult
	for id, obj := range s.objects {
		if obj.State != ClaimHeld {
			continue
		}
		toTarget := obj.Target.Sub(obj.Pos)
		dist := toTarget.Len()
		if dist < s.tuning.CollectEps {
			obj.State = ClaimCollected
			delete(s.objects, id)
			res.Collected = append(res.Collected, ClaimOutcome{ObjectID: id, HolderID: obj.HolderID})
			continue
		}
		if dist >= s.tuning.MaxRange {
			obj.State = ClaimReleased
			delete(s.objects, id)
			res.Released = append(res.Released, ClaimOutcome{ObjectID: id, HolderID: obj.HolderID})
			continue
		}
		held := s.now - obj.HeldSince
		force := Clamp(s.tuning.ForceBase+s.tuning.ForceGrowth*held, 0, s.tuning.ForceMax)
		speedCap := Clamp(s.tuning.SpeedBase+s.tuning.SpeedGrowth*held, 0, s.tuning.SpeedMax)
		obj.Vel = obj.Vel.Add(toTarget.Normalized().Scale(force * Dt))
		obj.Vel = obj.Vel.Scale(s.tuning.Damping).ClampLen(speedCap)
		obj.Pos = obj.Pos.Add(obj.Vel.Scale(Dt))
		res.Updates = append(res.Updates, ObjectUpdate{
			ID:       id,
			Pos:      obj.Pos,
			Vel:      obj.Vel,
			HolderID: obj.HolderID,
		})
	}
	return res
}
