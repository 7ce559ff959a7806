package stream

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-community/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPionRouterCapabilities(t *testing.T) {
	router, err := NewPionRouter(testutil.TestLogger(t), PionOptions{})
	require.NoError(t, err)

	assert.Equal(t, []Codec{
		{Kind: KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}, router.Capabilities().Codecs)
}

func TestPionRouterRejectsMalformedOffer(t *testing.T) {
	router, err := NewPionRouter(testutil.TestLogger(t), PionOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = router.CreateProducer(ctx, []string{KindVideo}, "not an sdp")
	assert.Error(t, err)
}

func TestCodecFor(t *testing.T) {
	_, c, err := codecFor(KindAudio)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), c.ClockRate)

	_, _, err = codecFor("data")
	assert.Error(t, err)
}
