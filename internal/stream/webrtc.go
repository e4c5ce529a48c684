package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/bigeyemix/internal/audio"
)

// DefaultOpusBitrate is used when NewWebRTCHandler is given none.
const DefaultOpusBitrate = 128000

// WebRTCHandler answers SDP offers on /offer and relays the preview mix
// to each peer as Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	log         *zap.Logger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a WebRTC preview handler encoding at bitrate
// bits per second.
func NewWebRTCHandler(b *Broadcaster, bitrate int, logger *zap.Logger) *WebRTCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bitrate <= 0 {
		bitrate = DefaultOpusBitrate
	}
	return &WebRTCHandler{
		broadcaster: b,
		bitrate:     bitrate,
		log:         logger,
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
}

// PeerCount returns the number of connected preview peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// negotiateError carries the status a failed negotiation answers with.
type negotiateError struct {
	status int
	msg    string
	err    error
}

func (e *negotiateError) Error() string { return fmt.Sprintf("%s: %v", e.msg, e.err) }

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.negotiate(r.Context(), offer)
	if err != nil {
		var ne *negotiateError
		if !errors.As(err, &ne) {
			return // client went away during ICE gathering
		}
		h.log.Warn("webrtc negotiation failed", zap.Error(err))
		http.Error(w, ne.msg, ne.status)
		return
	}

	listener := h.broadcaster.Subscribe()
	h.mu.Lock()
	h.peers[pc] = listener
	h.mu.Unlock()
	h.log.Info("webrtc peer connected", zap.Int("peers", h.PeerCount()))

	go h.relay(listener, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.removePeer(pc)
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// negotiate builds a peer connection with one Opus track and returns it
// once ICE gathering is complete.
func (h *WebRTCHandler) negotiate(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, &negotiateError{http.StatusInternalServerError, "create peer connection failed", err}
	}
	fail := func(status int, msg string, err error) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, &negotiateError{status, msg, err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"bigeyemix-preview",
	)
	if err != nil {
		return fail(http.StatusInternalServerError, "create audio track failed", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail(http.StatusInternalServerError, "add track failed", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description failed", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "create answer failed", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(http.StatusInternalServerError, "set local description failed", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
		return pc, track, nil
	case <-ctx.Done():
		pc.Close()
		return nil, nil, ctx.Err()
	}
}

// relay encodes the listener's frames to Opus until the listener is
// unsubscribed or the track stops accepting samples.
func (h *WebRTCHandler) relay(listener *Listener, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.log.Error("opus encoder", zap.Error(err))
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		h.log.Warn("opus bitrate", zap.Int("bitrate", h.bitrate), zap.Error(err))
	}

	packet := make([]byte, 4000)
	sent := 0
	defer func() {
		h.log.Debug("webrtc relay stopped", zap.Int("frames", sent), zap.Uint64("dropped_frames", listener.Dropped()))
	}()

	for {
		select {
		case <-listener.Done():
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				h.log.Warn("opus encode", zap.Error(err))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
			sent++
		}
	}
}

// removePeer stops the peer's relay and closes the connection.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	listener, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.broadcaster.Unsubscribe(listener)
	pc.Close()
	h.log.Info("webrtc peer disconnected", zap.Int("peers", h.PeerCount()))
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	pcs := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		pcs = append(pcs, pc)
	}
	h.mu.Unlock()
	for _, pc := range pcs {
		h.removePeer(pc)
	}
}
