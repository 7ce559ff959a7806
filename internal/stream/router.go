package stream

import "context"

const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Codec describes a media codec supported by the router.
type Codec struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mime_type"`
	ClockRate uint32 `json:"clock_rate"`
	Channels  uint16 `json:"channels,omitempty"`
}

type Capabilities struct {
	Codecs []Codec `json:"codecs"`
}

// Producer is the ingest side of the stream: one peer connection receiving
// the broadcaster's tracks.
type Producer interface {
	Id() string
	Kinds() []string
	AnswerSdp() string
	// OnFailed registers a callback invoked once when the producer's
	// transport fails or is closed remotely.
	OnFailed(func())
	Close() error
}

// Consumer is a viewer's transport bound to a producer.
type Consumer interface {
	Id() string
	OfferSdp() string
	SetAnswer(sdp string) error
	Close() error
}

// MediaRouter allocates transports for producers and consumers.
type MediaRouter interface {
	Capabilities() Capabilities
	CreateProducer(ctx context.Context, kinds []string, offerSdp string) (Producer, error)
	CreateConsumer(ctx context.Context, producer Producer) (Consumer, error)
}
