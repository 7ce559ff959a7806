package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/testutil"
	"github.com/npezzotti/go-community/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	id       string
	kinds    []string
	closed   bool
	onFailed func()
}

func (p *fakeProducer) Id() string        { return p.id }
func (p *fakeProducer) Kinds() []string   { return p.kinds }
func (p *fakeProducer) AnswerSdp() string { return "answer-" + p.id }
func (p *fakeProducer) OnFailed(f func()) { p.onFailed = f }
func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

type fakeConsumer struct {
	id     string
	answer string
	closed bool
}

func (c *fakeConsumer) Id() string       { return c.id }
func (c *fakeConsumer) OfferSdp() string { return "offer-" + c.id }
func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}
func (c *fakeConsumer) SetAnswer(sdp string) error {
	if sdp == "bad" {
		return errors.New("malformed sdp")
	}
	c.answer = sdp
	return nil
}

type fakeRouter struct {
	mu          sync.Mutex
	n           int
	producerErr error
	producers   []*fakeProducer
	consumers   []*fakeConsumer
}

func (r *fakeRouter) Capabilities() Capabilities {
	return Capabilities{Codecs: []Codec{{Kind: KindVideo, MimeType: "video/VP8", ClockRate: 90000}}}
}

func (r *fakeRouter) CreateProducer(_ context.Context, kinds []string, _ string) (Producer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producerErr != nil {
		return nil, r.producerErr
	}
	r.n++
	p := &fakeProducer{id: fmt.Sprintf("p%d", r.n), kinds: kinds}
	r.producers = append(r.producers, p)
	return p, nil
}

func (r *fakeRouter) CreateConsumer(_ context.Context, _ Producer) (Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	c := &fakeConsumer{id: fmt.Sprintf("c%d", r.n)}
	r.consumers = append(r.consumers, c)
	return c, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeRouter, *testutil.Recorder) {
	router := &fakeRouter{}
	rec := &testutil.Recorder{}
	return NewCoordinator(testutil.TestLogger(t), router, rec), router, rec
}

var validProduce = ProduceRequest{
	Sdp:    "v=0",
	Tracks: []TrackParams{{Kind: KindVideo}, {Kind: KindAudio}},
}

func statuses(rec *testutil.Recorder) []string {
	var out []string
	for _, e := range rec.Named(types.EventStreamStatus) {
		out = append(out, e.Payload.(types.StreamStatusEvent).Status)
	}
	return out
}

func TestCoordinatorLifecycle(t *testing.T) {
	c, router, rec := newTestCoordinator(t)
	ctx := context.Background()

	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Start())
	assert.Equal(t, StateStarting, c.State())
	assert.Equal(t, []string{"started"}, statuses(rec))

	err := c.Start()
	assert.Equal(t, chat.KindConflict, chat.ErrorKind(err), "start while starting")

	_, err = c.Consume(ctx)
	assert.Equal(t, chat.KindConflict, chat.ErrorKind(err), "consume before live")

	info, err := c.Produce(ctx, validProduce)
	require.NoError(t, err)
	assert.Equal(t, StateLive, c.State())
	assert.Equal(t, "p1", info.ProducerId)
	assert.Equal(t, []string{KindVideo, KindAudio}, info.Kinds)
	assert.Equal(t, "answer-p1", info.Sdp)

	started := rec.Named(types.EventStreamStarted)
	require.Len(t, started, 1)
	assert.Equal(t, types.GlobalChannel, started[0].Channel)
	assert.Equal(t, types.StreamStartedEvent{ProducerId: "p1"}, started[0].Payload)

	_, err = c.Produce(ctx, validProduce)
	assert.Equal(t, chat.KindConflict, chat.ErrorKind(err), "second producer")

	consumer, err := c.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", consumer.ProducerId)
	assert.Equal(t, "offer-"+consumer.ConsumerId, consumer.Sdp)

	require.NoError(t, c.ConnectConsumer(ctx, consumer.ConsumerId, "answer"))
	assert.Equal(t, "answer", router.consumers[0].answer)

	err = c.ConnectConsumer(ctx, "missing", "answer")
	assert.Equal(t, chat.KindNotFound, chat.ErrorKind(err))
	err = c.ConnectConsumer(ctx, consumer.ConsumerId, "bad")
	assert.Equal(t, chat.KindValidation, chat.ErrorKind(err))

	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, router.producers[0].closed)
	assert.True(t, router.consumers[0].closed)
	assert.Equal(t, []string{"started", "stopped"}, statuses(rec))

	err = c.Stop()
	assert.Equal(t, chat.KindConflict, chat.ErrorKind(err), "stop while idle")
	assert.Equal(t, []string{"started", "stopped"}, statuses(rec), "no event on rejected stop")
}

func TestCoordinatorProduceRejected(t *testing.T) {
	tcases := []struct {
		name      string
		req       ProduceRequest
		routerErr error
		wantKind  chat.Kind
	}{
		{name: "no tracks", req: ProduceRequest{Sdp: "v=0"}, wantKind: chat.KindValidation},
		{name: "missing sdp", req: ProduceRequest{Tracks: []TrackParams{{Kind: KindVideo}}}, wantKind: chat.KindValidation},
		{name: "missing kind", req: ProduceRequest{Sdp: "v=0", Tracks: []TrackParams{{}}}, wantKind: chat.KindValidation},
		{name: "unknown kind", req: ProduceRequest{Sdp: "v=0", Tracks: []TrackParams{{Kind: "data"}}}, wantKind: chat.KindValidation},
		{name: "router failure", req: validProduce, routerErr: errors.New("ice failed"), wantKind: chat.KindDependency},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c, router, rec := newTestCoordinator(t)
			router.producerErr = tc.routerErr
			require.NoError(t, c.Start())

			_, err := c.Produce(context.Background(), tc.req)
			assert.Equal(t, tc.wantKind, chat.ErrorKind(err))
			assert.Equal(t, StateStarting, c.State(), "state unchanged")
			assert.Empty(t, rec.Named(types.EventStreamStarted))
		})
	}
}

func TestCoordinatorProduceWhileIdle(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.Produce(context.Background(), validProduce)
	assert.Equal(t, chat.KindConflict, chat.ErrorKind(err))
}

func TestCoordinatorStopFromStarting(t *testing.T) {
	c, _, rec := newTestCoordinator(t)
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []string{"started", "stopped"}, statuses(rec))
}

func TestCoordinatorProducerFailure(t *testing.T) {
	c, router, rec := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Start())
	_, err := c.Produce(ctx, validProduce)
	require.NoError(t, err)
	_, err = c.Consume(ctx)
	require.NoError(t, err)

	router.producers[0].onFailed()

	assert.Equal(t, StateIdle, c.State())
	assert.True(t, router.consumers[0].closed)
	assert.Equal(t, []string{"started", "stopped"}, statuses(rec))

	// a late failure from an old producer must not tear down a new stream
	require.NoError(t, c.Start())
	_, err = c.Produce(ctx, validProduce)
	require.NoError(t, err)
	router.producers[0].onFailed()
	assert.Equal(t, StateLive, c.State())
}

func TestCoordinatorClose(t *testing.T) {
	c, router, _ := newTestCoordinator(t)
	require.NoError(t, c.Start())
	_, err := c.Produce(context.Background(), validProduce)
	require.NoError(t, err)

	c.Close()
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, router.producers[0].closed)

	c.Close()
	assert.Equal(t, StateIdle, c.State())
}

func TestCapabilities(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	assert.Len(t, c.Capabilities().Codecs, 1)
}

func TestCoordinatorConcurrentStart(t *testing.T) {
	c, _, rec := newTestCoordinator(t)

	const n = 16
	var (
		wg    sync.WaitGroup
		ready = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			errs[i] = c.Start()
		}(i)
	}
	close(ready)
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, chat.KindConflict, chat.ErrorKind(err))
	}
	assert.Equal(t, 1, succeeded, "exactly one start wins")
	assert.Equal(t, []string{"started"}, statuses(rec))
	assert.Equal(t, StateStarting, c.State())
}

func TestCoordinatorConcurrentProduce(t *testing.T) {
	c, router, rec := newTestCoordinator(t)
	require.NoError(t, c.Start())

	const n = 8
	var (
		wg    sync.WaitGroup
		ready = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			_, errs[i] = c.Produce(context.Background(), validProduce)
		}(i)
	}
	close(ready)
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, chat.KindConflict, chat.ErrorKind(err))
	}
	assert.Equal(t, 1, succeeded, "only one producer is created")
	assert.Len(t, router.producers, 1)
	assert.Len(t, rec.Named(types.EventStreamStarted), 1)
	assert.Equal(t, StateLive, c.State())
}
