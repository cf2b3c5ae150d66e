package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label a viewer must give its data channel.
const DataChannelLabel = "bands"

// WebRTCHandler negotiates peers that receive band frames over a data channel.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	mu          sync.Mutex
	peers       []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC band stream handler.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			log.Printf("WebRTC: ignoring data channel %q", dc.Label())
			return
		}
		closed := make(chan struct{})
		var once sync.Once
		dc.OnClose(func() { once.Do(func() { close(closed) }) })
		dc.OnOpen(func() { go h.streamToChannel(dc, closed) })
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// Wait for ICE gathering to complete
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-r.Context().Done():
		pc.Close()
		return
	}

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()

	log.Printf("WebRTC viewer connected (total: %d)", h.PeerCount())

	// Clean up on disconnect
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			if h.removePeer(pc) {
				pc.Close()
				log.Printf("WebRTC viewer disconnected (remaining: %d)", h.PeerCount())
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToChannel(dc *webrtc.DataChannel, closed <-chan struct{}) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	for {
		select {
		case <-closed:
			return
		case <-listener.done:
			return
		case frame := <-listener.C:
			msg, err := json.Marshal(frame)
			if err != nil {
				log.Printf("WebRTC: encode frame: %v", err)
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				return
			}
		}
	}
}

// removePeer forgets pc and reports whether it was still tracked.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Close tears down every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = nil
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
