package stream

import (
	"context"
	"log"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/types"
	"github.com/samber/lo"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateLive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateLive:
		return "live"
	}
	return "unknown"
}

type TrackParams struct {
	Kind string `json:"kind" validate:"required,oneof=audio video"`
}

// ProduceRequest carries the broadcaster's SDP offer and the tracks it sends.
type ProduceRequest struct {
	Sdp    string        `json:"sdp" validate:"required"`
	Tracks []TrackParams `json:"tracks" validate:"required,min=1,dive"`
}

type ProducerInfo struct {
	ProducerId string   `json:"producer_id"`
	Kinds      []string `json:"kinds"`
	Sdp        string   `json:"sdp"`
}

type ConsumerInfo struct {
	ConsumerId string   `json:"consumer_id"`
	ProducerId string   `json:"producer_id"`
	Kinds      []string `json:"kinds"`
	Sdp        string   `json:"sdp"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Coordinator owns the single live stream of the process. All transitions
// happen under mu.
type Coordinator struct {
	log     *log.Logger
	router  MediaRouter
	emitter chat.Emitter

	mu        sync.Mutex
	state     State
	producer  Producer
	consumers map[string]Consumer
}

func NewCoordinator(logger *log.Logger, router MediaRouter, emitter chat.Emitter) *Coordinator {
	return &Coordinator{
		log:       logger,
		router:    router,
		emitter:   emitter,
		consumers: make(map[string]Consumer),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Capabilities() Capabilities {
	return c.router.Capabilities()
}

func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return chat.NewConflictError("stream already started")
	}

	c.state = StateStarting
	c.log.Println("stream starting")
	c.emitter.Emit(types.GlobalChannel, types.EventStreamStatus, types.StreamStatusEvent{Status: "started"})

	return nil
}

// Produce negotiates the broadcaster's transport. Invalid requests and router
// failures leave the state unchanged.
func (c *Coordinator) Produce(ctx context.Context, req ProduceRequest) (ProducerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStarting {
		return ProducerInfo{}, chat.NewConflictError("stream is not awaiting a producer")
	}

	if err := validate.Struct(req); err != nil {
		c.log.Printf("invalid produce request: %v", err)
		return ProducerInfo{}, chat.NewValidationError("invalid produce parameters")
	}

	kinds := lo.Uniq(lo.Map(req.Tracks, func(t TrackParams, _ int) string { return t.Kind }))
	producer, err := c.router.CreateProducer(ctx, kinds, req.Sdp)
	if err != nil {
		c.log.Printf("create producer: %v", err)
		return ProducerInfo{}, &chat.Error{Kind: chat.KindDependency, Message: "failed to create producer", Err: err}
	}

	producerId := producer.Id()
	producer.OnFailed(func() {
		c.handleProducerFailure(producerId)
	})

	c.producer = producer
	c.state = StateLive
	c.log.Printf("stream live with producer %s", producerId)
	c.emitter.Emit(types.GlobalChannel, types.EventStreamStarted, types.StreamStartedEvent{ProducerId: producerId})

	return ProducerInfo{
		ProducerId: producerId,
		Kinds:      producer.Kinds(),
		Sdp:        producer.AnswerSdp(),
	}, nil
}

// Consume allocates a transport for one viewer. The returned offer must be
// answered through ConnectConsumer.
func (c *Coordinator) Consume(ctx context.Context) (ConsumerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLive || c.producer == nil {
		return ConsumerInfo{}, chat.NewConflictError("stream is not live")
	}

	consumer, err := c.router.CreateConsumer(ctx, c.producer)
	if err != nil {
		c.log.Printf("create consumer: %v", err)
		return ConsumerInfo{}, &chat.Error{Kind: chat.KindDependency, Message: "failed to create consumer", Err: err}
	}

	c.consumers[consumer.Id()] = consumer

	return ConsumerInfo{
		ConsumerId: consumer.Id(),
		ProducerId: c.producer.Id(),
		Kinds:      c.producer.Kinds(),
		Sdp:        consumer.OfferSdp(),
	}, nil
}

func (c *Coordinator) ConnectConsumer(ctx context.Context, consumerId, answerSdp string) error {
	if answerSdp == "" {
		return chat.NewValidationError("sdp is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	consumer, ok := c.consumers[consumerId]
	if !ok {
		return &chat.Error{Kind: chat.KindNotFound, Message: "consumer not found"}
	}

	if err := consumer.SetAnswer(answerSdp); err != nil {
		c.log.Printf("connect consumer %s: %v", consumerId, err)
		return chat.NewValidationError("invalid answer")
	}

	return nil
}

func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return chat.NewConflictError("stream is not running")
	}

	c.teardown()
	return nil
}

// Close releases any running stream during shutdown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		c.teardown()
	}
}

func (c *Coordinator) handleProducerFailure(producerId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.producer == nil || c.producer.Id() != producerId {
		return
	}

	c.log.Printf("producer %s transport failed", producerId)
	c.teardown()
}

// teardown must be called with mu held.
func (c *Coordinator) teardown() {
	for id, consumer := range c.consumers {
		if err := consumer.Close(); err != nil {
			c.log.Printf("close consumer %s: %v", id, err)
		}
		delete(c.consumers, id)
	}

	if c.producer != nil {
		if err := c.producer.Close(); err != nil {
			c.log.Printf("close producer %s: %v", c.producer.Id(), err)
		}
		c.producer = nil
	}

	c.state = StateIdle
	c.log.Println("stream stopped")
	c.emitter.Emit(types.GlobalChannel, types.EventStreamStatus, types.StreamStatusEvent{Status: "stopped"})
}
