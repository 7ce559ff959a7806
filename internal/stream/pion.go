package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const streamId = "community-stream"

var (
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
)

type PionOptions struct {
	ICEServers []string
	// AnnouncedIP replaces host candidates with a public address when the
	// server runs behind NAT.
	AnnouncedIP string
}

// PionRouter forwards the producer's RTP packets to every consumer through
// shared local tracks.
type PionRouter struct {
	log    *log.Logger
	api    *webrtc.API
	config webrtc.Configuration
}

func NewPionRouter(logger *log.Logger, opts PionOptions) (*PionRouter, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: vp8Codec, PayloadType: 96}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register vp8: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: opusCodec, PayloadType: 111}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	config := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &PionRouter{
		log:    logger,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config: config,
	}, nil
}

func (r *PionRouter) Capabilities() Capabilities {
	return Capabilities{
		Codecs: []Codec{
			{Kind: KindVideo, MimeType: vp8Codec.MimeType, ClockRate: vp8Codec.ClockRate},
			{Kind: KindAudio, MimeType: opusCodec.MimeType, ClockRate: opusCodec.ClockRate, Channels: opusCodec.Channels},
		},
	}
}

type pionProducer struct {
	id        string
	kinds     []string
	pc        *webrtc.PeerConnection
	tracks    map[string]*webrtc.TrackLocalStaticRTP
	answerSdp string

	closed   atomic.Bool
	mu       sync.Mutex
	onFailed func()
	failOnce sync.Once
}

func (p *pionProducer) Id() string        { return p.id }
func (p *pionProducer) Kinds() []string   { return p.kinds }
func (p *pionProducer) AnswerSdp() string { return p.answerSdp }

func (p *pionProducer) OnFailed(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = f
}

func (p *pionProducer) fail() {
	if p.closed.Load() {
		return
	}
	p.failOnce.Do(func() {
		p.mu.Lock()
		f := p.onFailed
		p.mu.Unlock()
		if f != nil {
			f()
		}
	})
}

func (p *pionProducer) Close() error {
	p.closed.Store(true)
	return p.pc.Close()
}

func (r *PionRouter) CreateProducer(ctx context.Context, kinds []string, offerSdp string) (Producer, error) {
	pc, err := r.api.NewPeerConnection(r.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &pionProducer{
		id:     uuid.NewString(),
		kinds:  kinds,
		pc:     pc,
		tracks: make(map[string]*webrtc.TrackLocalStaticRTP),
	}

	for _, kind := range kinds {
		codecType, capability, err := codecFor(kind)
		if err != nil {
			pc.Close()
			return nil, err
		}

		track, err := webrtc.NewTrackLocalStaticRTP(capability, kind, streamId)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("new %s track: %w", kind, err)
		}
		p.tracks[kind] = track

		if _, err := pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		local, ok := p.tracks[remote.Kind().String()]
		if !ok {
			return
		}
		r.forward(remote, local)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.log.Printf("producer %s connection state: %s", p.id, state)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			p.fail()
		}
	})

	answer, err := negotiateAnswer(ctx, pc, offerSdp)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.answerSdp = answer

	return p, nil
}

func (r *PionRouter) forward(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, 1500)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Printf("read %s track: %v", remote.Kind(), err)
			}
			return
		}

		if _, err := local.Write(buf[:n]); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			r.log.Printf("forward %s packet: %v", remote.Kind(), err)
			return
		}
	}
}

type pionConsumer struct {
	id       string
	pc       *webrtc.PeerConnection
	offerSdp string
}

func (c *pionConsumer) Id() string       { return c.id }
func (c *pionConsumer) OfferSdp() string { return c.offerSdp }
func (c *pionConsumer) Close() error     { return c.pc.Close() }

func (c *pionConsumer) SetAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (r *PionRouter) CreateConsumer(ctx context.Context, producer Producer) (Consumer, error) {
	p, ok := producer.(*pionProducer)
	if !ok {
		return nil, fmt.Errorf("unsupported producer type %T", producer)
	}

	pc, err := r.api.NewPeerConnection(r.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := &pionConsumer{id: uuid.NewString(), pc: pc}

	for _, kind := range p.kinds {
		sender, err := pc.AddTrack(p.tracks[kind])
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", kind, err)
		}

		// Drain RTCP so the sender does not block.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.log.Printf("consumer %s connection state: %s", c.id, state)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if err := waitGathering(ctx, gathered); err != nil {
		pc.Close()
		return nil, err
	}
	c.offerSdp = pc.LocalDescription().SDP

	return c, nil
}

func negotiateAnswer(ctx context.Context, pc *webrtc.PeerConnection, offerSdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	if err := waitGathering(ctx, gathered); err != nil {
		return "", err
	}

	return pc.LocalDescription().SDP, nil
}

func waitGathering(ctx context.Context, gathered <-chan struct{}) error {
	select {
	case <-gathered:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ice gathering: %w", ctx.Err())
	}
}

func codecFor(kind string) (webrtc.RTPCodecType, webrtc.RTPCodecCapability, error) {
	switch kind {
	case KindVideo:
		return webrtc.RTPCodecTypeVideo, vp8Codec, nil
	case KindAudio:
		return webrtc.RTPCodecTypeAudio, opusCodec, nil
	}
	return 0, webrtc.RTPCodecCapability{}, fmt.Errorf("unsupported kind %q", kind)
}
