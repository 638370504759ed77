package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scrapdrift/internal/game"
	"scrapdrift/internal/protocol"
)

// relaySender is the outbound half of a participant's relay connection.
// Production wraps a websocket; tests inject recorders.
type relaySender interface {
	WriteEnvelope(protocol.Envelope) error
	Close() error
}

// wsSender adapts a gorilla connection; the mutex serializes writers
// (room broadcasts and direct replies race otherwise).
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSender) WriteEnvelope(env protocol.Envelope) error {
	frameType, data, err := protocol.EncodeRelay(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(frameType, data)
}

func (s *wsSender) Close() error { return s.conn.Close() }

// PeerSession is one participant's membership record. Sessions admitted
// with a client-requested id are persistent (stable across reconnects);
// otherwise the id is ephemeral until an explicit identity upgrade.
type PeerSession struct {
	ID         string
	RoomID     string
	Persistent bool
	Custom     *protocol.Customization
	Transform  game.Transform
	LastActive time.Time

	conn relaySender
}

// Name resolves the display name for chat relay.
func (s *PeerSession) Name() string {
	if s.Custom != nil && s.Custom.Name != "" {
		return s.Custom.Name
	}
	return s.ID
}

func (s *PeerSession) send(env protocol.Envelope) error {
	return s.conn.WriteEnvelope(env)
}

func (s *PeerSession) touch() {
	s.LastActive = time.Now()
}

// UpgradeIdentity re-keys an ephemeral session to an authenticated
// persistent id. The caller (directory) moves the map entry; this records
// the transition on the session itself so it is explicit, not an overwrite.
func (s *PeerSession) UpgradeIdentity(persistentID string) (old string) {
	old = s.ID
	s.ID = persistentID
	s.Persistent = true
	return old
}
