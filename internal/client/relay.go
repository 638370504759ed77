package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"scrapdrift/internal/protocol"
)

// relayLink is what the client core needs from its relay connection.
type relayLink interface {
	Send(protocol.Envelope) error
	Close() error
}

// RelayClient is the reliable ordered path to the session server: room
// membership, negotiation envelopes, and the transport of last resort when
// no peer channel is open.
type RelayClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	log     zerolog.Logger
}

func DialRelay(ctx context.Context, url string, log zerolog.Logger) (*RelayClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	return &RelayClient{conn: conn, log: log.With().Str("component", "relay").Logger()}, nil
}

// Send writes one envelope. Safe for concurrent use.
func (c *RelayClient) Send(env protocol.Envelope) error {
	frameType, data, err := protocol.EncodeRelay(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(frameType, data)
}

// ReadLoop delivers inbound envelopes to handle until the connection drops
// or ctx is cancelled. Malformed frames are logged and skipped; the
// connection stays open.
func (c *RelayClient) ReadLoop(ctx context.Context, handle func(protocol.Envelope)) error {
	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay read: %w", err)
		}
		env, err := protocol.DecodeRelay(frameType, data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping relay frame")
			continue
		}
		handle(env)
	}
}

func (c *RelayClient) Close() error {
	return c.conn.Close()
}
