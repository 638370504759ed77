package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedMessage wraps every parse/validation failure at the wire
// boundary. Handlers drop such frames with a log line; decode errors never
// reach simulation code.
var ErrMalformedMessage = errors.New("malformed message")

// Relay frames are JSON envelopes in text frames. Envelopes above
// compressThreshold (room rosters, mostly) are lz4-compressed and sent as
// binary frames; the frame type tells the receiver which path to take.
const compressThreshold = 1024

// Pack marshals a payload into a tagged envelope.
func Pack(typ string, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("pack %s: %w", typ, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, e.Type, err)
	}
	return nil
}

// EncodeRelay renders an envelope as a websocket frame, compressing
// oversized payloads.
func EncodeRelay(env Envelope) (int, []byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, nil, fmt.Errorf("encode relay %s: %w", env.Type, err)
	}
	if len(data) < compressThreshold {
		return websocket.TextMessage, data, nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return 0, nil, fmt.Errorf("compress relay %s: %w", env.Type, err)
	}
	if err := zw.Close(); err != nil {
		return 0, nil, fmt.Errorf("compress relay %s: %w", env.Type, err)
	}
	return websocket.BinaryMessage, buf.Bytes(), nil
}

// DecodeRelay parses a websocket frame back into an envelope.
func DecodeRelay(frameType int, data []byte) (Envelope, error) {
	if frameType == websocket.BinaryMessage {
		zr := lz4.NewReader(bytes.NewReader(data))
		plain, err := io.ReadAll(zr)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: lz4: %v", ErrMalformedMessage, err)
		}
		data = plain
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: envelope missing type", ErrMalformedMessage)
	}
	return env, nil
}

/* ----------------------------- Peer frames ----------------------------- */

// Peer channel traffic is high-frequency and loss-tolerant, so it uses
// compact msgpack frames instead of JSON.

type PeerEnvelope struct {
	Type    string             `msgpack:"t"`
	From    string             `msgpack:"f"`
	Payload msgpack.RawMessage `msgpack:"p"`
}

func EncodePeer(typ, from string, payload any) ([]byte, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode peer %s: %w", typ, err)
	}
	frame, err := msgpack.Marshal(PeerEnvelope{Type: typ, From: from, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode peer %s: %w", typ, err)
	}
	return frame, nil
}

func DecodePeer(data []byte) (PeerEnvelope, error) {
	var env PeerEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return PeerEnvelope{}, fmt.Errorf("%w: peer frame: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return PeerEnvelope{}, fmt.Errorf("%w: peer frame missing type", ErrMalformedMessage)
	}
	return env, nil
}

// DecodePayload unmarshals the peer payload into out.
func (e PeerEnvelope) DecodePayload(out any) error {
	if err := msgpack.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, e.Type, err)
	}
	return nil
}
