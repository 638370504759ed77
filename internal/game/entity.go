package game

// Kind classifies replicated entities. The kind picks the snapshot-buffer
// profile and decides whether the server arbiter has authority over the
// entity.
type Kind string

const (
	KindShip       Kind = "ship"
	KindMaterial   Kind = "material"
	KindJunk       Kind = "junk"
	KindProjectile Kind = "projectile"
	KindEnemy      Kind = "enemy"
	KindStructure  Kind = "structure"
)

// Contested reports whether the server arbiter, not the owner, has the last
// word on this kind's position.
func (k Kind) Contested() bool {
	return k == KindJunk || k == KindMaterial
}

// Transform is the replicated pose of an entity.
type Transform struct {
	Pos Vec2    `json:"pos" msgpack:"p"`
	Rot float64 `json:"rot" msgpack:"r"`
	Vel Vec2    `json:"vel" msgpack:"v"`
}

// Snapshot is one timestamped observation of a remote entity, as stored in
// its interpolation buffer.
type Snapshot struct {
	T      float64
	Pos    Vec2
	Rot    float64
	Vel    Vec2
	Thrust bool
}
