package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"scrapdrift/internal/protocol"
)

// ErrNoPeerChannel reports that no open data channel exists for a remote.
// Senders treat it as a routing hint and fall back to the relay; it is
// never surfaced to callers of the high-level send paths.
var ErrNoPeerChannel = errors.New("no open peer channel")

const negotiationTimeout = 10 * time.Second

type PeerState int

const (
	PeerNegotiating PeerState = iota
	PeerOpen
	PeerClosed
)

type peerLink struct {
	pc    *webrtc.PeerConnection
	dc    *webrtc.DataChannel
	state PeerState
	timer *time.Timer
}

// PeerManager negotiates and owns one data channel per remote participant.
// Offers, answers and ICE candidates travel as envelopes through the relay;
// once a channel opens, high-frequency traffic prefers it.
type PeerManager struct {
	selfID string

	mu    sync.Mutex
	links map[string]*peerLink

	signal    func(protocol.Envelope) error
	onMessage func(protocol.PeerEnvelope)
	onClosed  func(remoteID string)
	cfg       webrtc.Configuration
	log       zerolog.Logger
}

func NewPeerManager(selfID string, signal func(protocol.Envelope) error, onMessage func(protocol.PeerEnvelope), log zerolog.Logger) *PeerManager {
	return &PeerManager{
		selfID:    selfID,
		links:     map[string]*peerLink{},
		signal:    signal,
		onMessage: onMessage,
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		},
		log: log.With().Str("component", "peer").Logger(),
	}
}

// SetOnClosed registers a callback fired when a channel leaves the open
// state for good.
func (m *PeerManager) SetOnClosed(fn func(remoteID string)) {
	m.onClosed = fn
}

// SetSelfID records the relay-assigned participant id once known; it is
// stamped into outgoing peer frames.
func (m *PeerManager) SetSelfID(id string) {
	m.mu.Lock()
	m.selfID = id
	m.mu.Unlock()
}

// Open reports whether an open channel to the remote exists.
func (m *PeerManager) Open(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remoteID]
	return ok && l.state == PeerOpen
}

// Connect starts a negotiation with remoteID as the initiating side. Called
// by a joining participant for each member already in the room; the
// opposite direction never initiates, which avoids duplicate negotiations.
func (m *PeerManager) Connect(remoteID string) error {
	m.mu.Lock()
	if _, exists := m.links[remoteID]; exists {
		m.mu.Unlock()
		return nil
	}
	pc, err := webrtc.NewPeerConnection(m.cfg)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("peer connection for %s: %w", remoteID, err)
	}
	link := &peerLink{pc: pc, state: PeerNegotiating}
	m.links[remoteID] = link
	m.mu.Unlock()

	ordered := false
	var maxRetransmits uint16
	dc, err := pc.CreateDataChannel("state", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		m.teardown(remoteID)
		return fmt.Errorf("data channel for %s: %w", remoteID, err)
	}
	m.attach(remoteID, link, dc)
	m.wirePeerConnection(remoteID, link)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.teardown(remoteID)
		return fmt.Errorf("create offer for %s: %w", remoteID, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.teardown(remoteID)
		return fmt.Errorf("set local offer for %s: %w", remoteID, err)
	}
	env, err := protocol.Pack(protocol.TypeNegotiateOffer, protocol.NegotiateOffer{Target: remoteID, SDP: offer.SDP})
	if err != nil {
		m.teardown(remoteID)
		return err
	}
	env.To = remoteID
	m.armTimeout(remoteID, link)
	return m.signal(env)
}

// HandleOffer answers an inbound negotiation.
func (m *PeerManager) HandleOffer(from, sdp string) error {
	m.mu.Lock()
	if old, exists := m.links[from]; exists {
		// Remote restarted its side; drop the stale link and renegotiate.
		closeLink(old)
		delete(m.links, from)
	}
	pc, err := webrtc.NewPeerConnection(m.cfg)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("peer connection for %s: %w", from, err)
	}
	link := &peerLink{pc: pc, state: PeerNegotiating}
	m.links[from] = link
	m.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.attach(from, link, dc)
	})
	m.wirePeerConnection(from, link)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		m.teardown(from)
		return fmt.Errorf("set remote offer from %s: %w", from, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.teardown(from)
		return fmt.Errorf("create answer for %s: %w", from, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.teardown(from)
		return fmt.Errorf("set local answer for %s: %w", from, err)
	}
	env, err := protocol.Pack(protocol.TypeNegotiateAnswer, protocol.NegotiateAnswer{Target: from, SDP: answer.SDP})
	if err != nil {
		m.teardown(from)
		return err
	}
	env.To = from
	m.armTimeout(from, link)
	return m.signal(env)
}

func (m *PeerManager) HandleAnswer(from, sdp string) error {
	m.mu.Lock()
	link, ok := m.links[from]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: answer from %s without pending offer", protocol.ErrMalformedMessage, from)
	}
	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote answer from %s: %w", from, err)
	}
	return nil
}

func (m *PeerManager) HandleCandidate(from string, c protocol.NegotiateCandidate) error {
	m.mu.Lock()
	link, ok := m.links[from]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: candidate from %s without negotiation", protocol.ErrMalformedMessage, from)
	}
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	init.SDPMLineIndex = &idx
	if err := link.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate from %s: %w", from, err)
	}
	return nil
}

// Send writes one frame to the remote's data channel. Returns
// ErrNoPeerChannel when the channel is not open; callers fall back to the
// relay.
func (m *PeerManager) Send(remoteID, typ string, payload any) error {
	m.mu.Lock()
	link, ok := m.links[remoteID]
	open := ok && link.state == PeerOpen && link.dc != nil
	selfID := m.selfID
	m.mu.Unlock()
	if !open {
		return ErrNoPeerChannel
	}
	frame, err := protocol.EncodePeer(typ, selfID, payload)
	if err != nil {
		return err
	}
	return link.dc.Send(frame)
}

// ClosePeer tears down the link to one remote.
func (m *PeerManager) ClosePeer(remoteID string) {
	m.teardown(remoteID)
}

// CloseAll tears down every link.
func (m *PeerManager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.teardown(id)
	}
}

func (m *PeerManager) attach(remoteID string, link *peerLink, dc *webrtc.DataChannel) {
	m.mu.Lock()
	link.dc = dc
	m.mu.Unlock()

	dc.OnOpen(func() {
		m.mu.Lock()
		link.state = PeerOpen
		if link.timer != nil {
			link.timer.Stop()
			link.timer = nil
		}
		m.mu.Unlock()
		m.log.Info().Str("remote", remoteID).Msg("peer channel open")
	})
	dc.OnClose(func() {
		m.teardown(remoteID)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		env, err := protocol.DecodePeer(msg.Data)
		if err != nil {
			m.log.Warn().Err(err).Str("remote", remoteID).Msg("dropping peer frame")
			return
		}
		if env.From == "" {
			env.From = remoteID
		}
		m.onMessage(env)
	})
}

func (m *PeerManager) wirePeerConnection(remoteID string, link *peerLink) {
	link.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		cand := protocol.NegotiateCandidate{Target: remoteID, Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		env, err := protocol.Pack(protocol.TypeNegotiateCandidate, cand)
		if err != nil {
			m.log.Warn().Err(err).Msg("pack candidate")
			return
		}
		env.To = remoteID
		if err := m.signal(env); err != nil {
			m.log.Warn().Err(err).Str("remote", remoteID).Msg("signal candidate")
		}
	})
	link.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.teardown(remoteID)
		}
	})
}

func (m *PeerManager) armTimeout(remoteID string, link *peerLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link.state != PeerNegotiating {
		return
	}
	link.timer = time.AfterFunc(negotiationTimeout, func() {
		m.mu.Lock()
		stale := link.state == PeerNegotiating
		m.mu.Unlock()
		if stale {
			m.log.Debug().Str("remote", remoteID).Msg("negotiation timed out, staying on relay")
			m.teardown(remoteID)
		}
	})
}

func (m *PeerManager) teardown(remoteID string) {
	m.mu.Lock()
	link, ok := m.links[remoteID]
	if ok {
		delete(m.links, remoteID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	wasOpen := link.state == PeerOpen
	closeLink(link)
	if wasOpen && m.onClosed != nil {
		m.onClosed(remoteID)
	}
}

func closeLink(link *peerLink) {
	link.state = PeerClosed
	if link.timer != nil {
		link.timer.Stop()
	}
	if link.dc != nil {
		_ = link.dc.Close()
	}
	if link.pc != nil {
		_ = link.pc.Close()
	}
}
