package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/config"
	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/push"
	"github.com/npezzotti/go-community/internal/server"
	"github.com/npezzotti/go-community/internal/stats"
	"github.com/npezzotti/go-community/internal/stream"
	"github.com/npezzotti/go-community/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// fakeStream follows the coordinator's start/stop rules without media.
type fakeStream struct {
	mu   sync.Mutex
	live bool
}

func (f *fakeStream) Capabilities() stream.Capabilities {
	return stream.Capabilities{Codecs: []stream.Codec{{Kind: stream.KindVideo, MimeType: "video/VP8", ClockRate: 90000}}}
}

func (f *fakeStream) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live {
		return chat.NewConflictError("stream is already running")
	}
	f.live = true
	return nil
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live {
		return chat.NewConflictError("no active stream")
	}
	f.live = false
	return nil
}

func (f *fakeStream) Produce(_ context.Context, req stream.ProduceRequest) (stream.ProducerInfo, error) {
	return stream.ProducerInfo{ProducerId: "p1", Kinds: []string{req.Tracks[0].Kind}, Sdp: "answer"}, nil
}

func (f *fakeStream) Consume(context.Context) (stream.ConsumerInfo, error) {
	return stream.ConsumerInfo{}, chat.NewConflictError("stream is not live")
}

func (f *fakeStream) ConnectConsumer(_ context.Context, consumerId, _ string) error {
	if consumerId != "c1" {
		return &chat.Error{Kind: chat.KindNotFound, Message: "consumer not found"}
	}
	return nil
}

type testEnv struct {
	app     *App
	repo    *testutil.MemoryRepository
	rec     *testutil.Recorder
	hub     *server.Hub
	handler http.Handler
	cfg     *config.Config
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		TokenTTL:       time.Hour,
		AllowedOrigins: []string{"http://localhost:3000"},
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 64 << 10,
	}
}

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()
	return su
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}

	logger := testutil.TestLogger(t)
	repo := testutil.NewMemoryRepository()
	rec := &testutil.Recorder{}

	hub := server.NewHub(logger, server.MembershipFunc(repo.ParticipantExists), newTestStats())
	svc := chat.NewService(logger, repo, hub, rec, chat.InlineRunner{Log: logger})
	go hub.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	dispatcher := push.NewDispatcher(logger, repo, push.LogSender{Log: logger})
	app := NewApp(http.NewServeMux(), logger, repo, svc, hub, &fakeStream{}, dispatcher, cfg)

	return &testEnv{app: app, repo: repo, rec: rec, hub: hub, handler: app.Handler(), cfg: cfg}
}

func (e *testEnv) token(t *testing.T, u database.User) string {
	t.Helper()
	token, err := e.app.createJwtForSession(userFromAccount(u), time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Code    int             `json:"code"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "body: %s", rr.Body.String())
	return env
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v any) envelope {
	t.Helper()
	env := decodeEnvelope(t, rr)
	require.True(t, env.Success, "unexpected failure: %s", env.Msg)
	require.NoError(t, json.Unmarshal(env.Data, v))
	return env
}
