// Package webrtc relays dashboard state to peers over a WebRTC data channel.
package webrtc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
)

// ChannelLabel is the data channel the peer must open in its offer.
const ChannelLabel = "dashboard"

// MaxMessageSize bounds a single data channel message. SCTP in pion rejects
// messages above 64 KiB.
const MaxMessageSize = 60 << 10

var (
	ErrInvalidOffer = errors.New("invalid offer")
	ErrMaxClients   = errors.New("maximum clients reached")
)

// Client represents a connected WebRTC peer
type Client struct {
	id              string
	peerConn        *webrtc.PeerConnection
	channel         *webrtc.DataChannel
	sendChan        chan []byte
	closeChan       chan struct{}
	messagesSent    atomic.Uint64
	messagesDropped atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics

	latestMu sync.RWMutex
	latest   []byte
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: expected an SDP offer", ErrInvalidOffer)
	}

	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, 8),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unknown channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			s.clientsMu.Lock()
			client.channel = dc
			s.clientsMu.Unlock()
			logger.Debug("WebRTC", "Client %s data channel open", client.id)

			// Start the peer from the current state
			if latest := s.Latest(); latest != nil {
				s.enqueue(client, latest)
			}
		})
	})

	// Peer connection state covers ICE and DTLS failures
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.addClient(client)
	go s.sendMessages(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

func (s *Server) addClient(client *Client) {
	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
	}
}

// Broadcast queues payload for every connected peer. Slow peers drop messages.
// Payloads above MaxMessageSize are discarded.
func (s *Server) Broadcast(payload []byte) {
	if len(payload) > MaxMessageSize {
		logger.Warn("WebRTC", "Dropping %d byte state, limit is %d", len(payload), MaxMessageSize)
		return
	}

	s.latestMu.Lock()
	s.latest = payload
	s.latestMu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		s.enqueueLocked(client, payload)
	}
}

// Latest returns the most recently broadcast payload.
func (s *Server) Latest() []byte {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.latest
}

func (s *Server) enqueue(client *Client, payload []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if _, ok := s.clients[client.id]; !ok {
		return
	}
	s.enqueueLocked(client, payload)
}

func (s *Server) enqueueLocked(client *Client, payload []byte) {
	select {
	case client.sendChan <- payload:
		client.messagesSent.Add(1)
	default:
		client.messagesDropped.Add(1)
	}
}

// sendMessages writes queued payloads to a specific client
func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case payload := <-client.sendChan:
			s.clientsMu.RLock()
			dc := client.channel
			s.clientsMu.RUnlock()

			if dc == nil {
				// Channel not open yet; the open handler replays the latest state
				continue
			}
			if err := dc.SendText(string(payload)); err != nil {
				if err != io.ErrClosedPipe {
					logger.Warn("WebRTC", "Error sending state to client %s: %v", client.id, err)
				}
				s.RemoveClient(client.id)
				return
			}
		}
	}
}

// peerState is the state sent over the data channel. The uploaded image is
// replaced by a digest; peers fetch the image itself from /api/state.
type peerState struct {
	dashboard.State
	UploadedImage string `json:"uploaded_image,omitempty"`
	UploadDigest  string `json:"upload_digest,omitempty"`
}

func encodePeerState(st dashboard.State) ([]byte, error) {
	view := peerState{State: st}
	if st.UploadedImage != "" {
		sum := sha256.Sum256([]byte(st.UploadedImage))
		view.UploadDigest = hex.EncodeToString(sum[:8])
	}
	return json.Marshal(view)
}

// Run broadcasts every state change until changes is closed.
func (s *Server) Run(changes <-chan dashboard.Change) {
	for change := range changes {
		payload, err := encodePeerState(change.State)
		if err != nil {
			logger.Error("WebRTC", "Failed to encode state: %v", err)
			continue
		}
		s.Broadcast(payload)
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)
}

func (s *Server) closeClient(client *Client) {
	close(client.closeChan)
	if err := client.peerConn.Close(); err != nil {
		logger.Debug("WebRTC", "Client %s close: %v", client.id, err)
	}
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(-1)
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		client.id, client.messagesSent.Load(), client.messagesDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"messages_sent":    client.messagesSent.Load(),
			"messages_dropped": client.messagesDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for id, client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	for _, client := range clients {
		s.closeClient(client)
	}
	return nil
}
