package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/truckdesk/screenshare/internal/media"
)

// fakePeer records every peer-connection call so tests can assert on the
// exact operation order the engine produced.
type fakePeer struct {
	mu         sync.Mutex
	ops        []string
	offers     int
	answers    int
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	added      []webrtc.ICECandidateInit
	closed     bool

	onICE   func(*webrtc.ICECandidate)
	onTrack func()
	onState func(webrtc.PeerConnectionState)

	createAnswerErr error
	setRemoteErr    error
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "add-track")
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 offer %d", p.offers),
	}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createAnswerErr != nil {
		return webrtc.SessionDescription{}, p.createAnswerErr
	}
	p.answers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0 answer %d", p.answers),
	}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localDesc = &desc
	p.ops = append(p.ops, "set-local")
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.remoteDesc = &desc
	p.ops = append(p.ops, "set-remote")
	return nil
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, candidate)
	p.ops = append(p.ops, "add-candidate:"+candidate.Candidate)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidate)) { p.onICE = fn }
func (p *fakePeer) OnTrack(fn func())                           { p.onTrack = fn }
func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) addedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.added))
	for _, c := range p.added {
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePeer) answerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) opLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

// fakePeers hands out fakePeer instances and remembers them.
type fakePeers struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (f *fakePeers) factory() media.PeerFactory {
	return func() (media.PeerConnection, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, f.err
		}
		p := &fakePeer{}
		f.peers = append(f.peers, p)
		return p, nil
	}
}

func (f *fakePeers) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakePeers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

type fakeCapture struct {
	mu      sync.Mutex
	surface media.SurfaceInfo
	stopped bool
	muted   bool
	dead    bool
	onEnded func()
}

func (c *fakeCapture) Tracks() []webrtc.TrackLocal { return nil }
func (c *fakeCapture) Surface() media.SurfaceInfo  { return c.surface }

func (c *fakeCapture) TrackLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

func (c *fakeCapture) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *fakeCapture) OnEnded(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnded = fn
}

func (c *fakeCapture) endTrack() {
	c.mu.Lock()
	c.dead = true
	fn := c.onEnded
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeCapture) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *fakeCapture) setMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

type fakeCapturer struct {
	mu      sync.Mutex
	surface media.SurfaceInfo
	err     error
	starts  int
	last    *fakeCapture
}

func (c *fakeCapturer) Start(context.Context) (media.Capture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.err != nil {
		return nil, c.err
	}
	c.last = &fakeCapture{surface: c.surface}
	return c.last, nil
}

func (c *fakeCapturer) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}
