package protocol

import (
	"encoding/json"

	"scrapdrift/internal/game"
)

/* --------------------------- Message catalogue --------------------------- */

// Every payload travels inside a tagged envelope. Inbound dispatch matches
// the tag in one place (server ws loop, client handler registry), so adding
// a message type is a local change.

const (
	TypeJoinRoom   = "join-room"
	TypeWelcome    = "welcome"
	TypeRoomJoined = "room-joined"

	TypeMemberJoined = "member-joined"
	TypeMemberLeft   = "member-left"
	TypeMemberUpdate = "member-update"

	TypeNegotiateOffer     = "negotiate-offer"
	TypeNegotiateAnswer    = "negotiate-answer"
	TypeNegotiateCandidate = "negotiate-candidate"

	TypePositionFull  = "position-full"
	TypePositionDelta = "position-delta"
	TypeEntitySpawn   = "entity-spawn"
	TypeEntityDestroy = "entity-destroy"

	TypeClaimStart     = "claim-start"
	TypeClaimStop      = "claim-stop"
	TypeClaimStarted   = "claim-started"
	TypeClaimStopped   = "claim-stopped"
	TypeClaimPhysics   = "claim-physics-update"
	TypeClaimCollected = "claim-collected"
	TypeClaimReleased  = "claim-released"

	TypeChat = "chat-message"
)

// Envelope is the relay wire frame. From is filled in by the server on
// forwarded traffic; To addresses a single participant, empty means the
// whole room.
type Envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

/* ------------------------- Membership payloads ------------------------- */

// Customization is an opaque cosmetic blob (display name, hull colors);
// this core relays it without interpreting anything beyond Name.
type Customization struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"`
}

type JoinRoom struct {
	RoomID       string         `json:"roomId"`
	PersistentID string         `json:"persistentId,omitempty"`
	Custom       *Customization `json:"customization,omitempty"`
}

type Welcome struct {
	ID string `json:"id"`
}

type MemberInfo struct {
	ID        string         `json:"id"`
	Transform game.Transform `json:"transform"`
	Custom    *Customization `json:"customization,omitempty"`
}

type RoomJoined struct {
	RoomID string       `json:"roomId"`
	Roster []MemberInfo `json:"roster"`
}

type MemberJoined struct {
	ID        string         `json:"id"`
	Transform game.Transform `json:"transform"`
	Custom    *Customization `json:"customization,omitempty"`
}

type MemberLeft struct {
	ID string `json:"id"`
}

type MemberUpdate struct {
	ID  string    `json:"id"`
	Pos game.Vec2 `json:"pos"`
	Rot float64   `json:"rot"`
	Vel game.Vec2 `json:"vel"`
}

/* ------------------------- Negotiation payloads ------------------------- */

// SDP bodies and ICE candidates are opaque to the relay; it only routes
// them to the target participant.

type NegotiateOffer struct {
	Target string `json:"target"`
	SDP    string `json:"sdp"`
}

type NegotiateAnswer struct {
	Target string `json:"target"`
	SDP    string `json:"sdp"`
}

type NegotiateCandidate struct {
	Target        string `json:"target"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

/* --------------------------- Entity payloads --------------------------- */

type PositionFull struct {
	EntityID string    `json:"entityId" msgpack:"e"`
	Kind     game.Kind `json:"kind" msgpack:"k"`
	Pos      game.Vec2 `json:"pos" msgpack:"p"`
	Rot      float64   `json:"rot" msgpack:"r"`
	Vel      game.Vec2 `json:"vel" msgpack:"v"`
	Thrust   bool      `json:"thrust" msgpack:"t"`
	Seq      uint32    `json:"seq" msgpack:"s"`
}

// PositionDelta is relative to the last full state for the entity, not the
// previous delta, so a receiver that misses intermediate deltas still
// reconstructs the sender's transform exactly from the next one.
type PositionDelta struct {
	EntityID string    `json:"entityId" msgpack:"e"`
	DPos     game.Vec2 `json:"dpos" msgpack:"dp"`
	DRot     float64   `json:"drot" msgpack:"dr"`
	DVel     game.Vec2 `json:"dvel" msgpack:"dv"`
	Thrust   bool      `json:"thrust" msgpack:"t"`
	Seq      uint32    `json:"seq" msgpack:"s"`
}

type EntitySpawn struct {
	EntityID  string            `json:"entityId"`
	Kind      game.Kind         `json:"kind"`
	OwnerID   string            `json:"ownerId"`
	Transform game.Transform    `json:"transform"`
	Meta      map[string]string `json:"meta,omitempty"`
}

type EntityDestroy struct {
	EntityID string `json:"entityId"`
}

/* ---------------------------- Claim payloads ---------------------------- */

type ClaimStart struct {
	ObjectIDs []string    `json:"objectIds"`
	Positions []game.Vec2 `json:"positions,omitempty"`
	HolderPos game.Vec2   `json:"holderPosition"`
}

type ClaimStop struct{}

type ClaimStarted struct {
	HolderID  string   `json:"holderId"`
	ObjectIDs []string `json:"objectIds"`
}

type ClaimStopped struct {
	HolderID  string   `json:"holderId"`
	ObjectIDs []string `json:"objectIds"`
}

type ClaimPhysics struct {
	Objects []game.ObjectUpdate `json:"objects" msgpack:"o"`
}

type ClaimCollected struct {
	ObjectID  string     `json:"objectId"`
	HolderID  string     `json:"holderId"`
	HolderPos *game.Vec2 `json:"holderPosition,omitempty"`
}

type ClaimReleased struct {
	ObjectID string `json:"objectId"`
	HolderID string `json:"holderId"`
}

/* ----------------------------- Chat payload ----------------------------- */

type Chat struct {
	Text string `json:"text"`
	Name string `json:"name,omitempty"` // resolved by the relay
}
