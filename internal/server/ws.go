package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"scrapdrift/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades a relay connection, admits the participant on its first
// join-room envelope and then pumps inbound traffic into the room until the
// connection drops. Malformed frames are dropped; the connection survives.
func serveWS(d *Directory, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn().Err(err).Msg("upgrade")
		return
	}
	sender := &wsSender{conn: conn}

	join, err := readJoin(conn)
	if err != nil {
		d.log.Warn().Err(err).Msg("rejecting connection before join")
		_ = sender.Close()
		return
	}

	room, sess, err := d.Join(join, sender)
	if err != nil {
		d.log.Warn().Err(err).Msg("join refused")
		_ = sender.Close()
		return
	}

	defer d.Leave(room.ID, sess.ID)
	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeRelay(frameType, data)
		if err != nil {
			d.log.Warn().Err(err).Str("session", sess.ID).Msg("dropping relay frame")
			continue
		}
		room.HandleEnvelope(sess, env)
	}
}

// readJoin expects the connection's first frame to be join-room.
func readJoin(conn *websocket.Conn) (protocol.JoinRoom, error) {
	frameType, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.JoinRoom{}, err
	}
	env, err := protocol.DecodeRelay(frameType, data)
	if err != nil {
		return protocol.JoinRoom{}, err
	}
	if env.Type != protocol.TypeJoinRoom {
		return protocol.JoinRoom{}, errors.New("first message must be join-room")
	}
	var join protocol.JoinRoom
	if err := env.Decode(&join); err != nil {
		return protocol.JoinRoom{}, err
	}
	return join, nil
}
