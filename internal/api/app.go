package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/config"
	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/server"
	"github.com/npezzotti/go-community/internal/stream"
	"github.com/npezzotti/go-community/internal/types"
)

// StreamSignaler is the live stream control surface exposed over HTTP.
type StreamSignaler interface {
	Capabilities() stream.Capabilities
	Start() error
	Stop() error
	Produce(ctx context.Context, req stream.ProduceRequest) (stream.ProducerInfo, error)
	Consume(ctx context.Context) (stream.ConsumerInfo, error)
	ConnectConsumer(ctx context.Context, consumerId, answerSdp string) error
}

type PushRegistrar interface {
	Register(userId int, deviceId string, raw json.RawMessage) (types.PushSubscription, error)
}

type App struct {
	log            *log.Logger
	db             database.Repository
	chat           *chat.Service
	hub            *server.Hub
	stream         StreamSignaler
	push           PushRegistrar
	srv            *http.Server
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
	uploadDir      string
	maxUploadBytes int64
}

func NewApp(
	mux *http.ServeMux,
	logger *log.Logger,
	db database.Repository,
	svc *chat.Service,
	hub *server.Hub,
	sig StreamSignaler,
	push PushRegistrar,
	cfg *config.Config,
) *App {
	s := &App{
		log:            logger,
		db:             db,
		chat:           svc,
		hub:            hub,
		stream:         sig,
		push:           push,
		signingKey:     cfg.SigningKey,
		tokenTTL:       cfg.TokenTTL,
		allowedOrigins: cfg.AllowedOrigins,
		uploadDir:      cfg.UploadDir,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = defaultJwtExpiration
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("POST /api/auth/logout", s.authMiddleware(s.logout))

	mux.HandleFunc("GET /api/chatrooms", s.authMiddleware(s.listChatrooms))
	mux.HandleFunc("POST /api/chatrooms", s.authMiddleware(s.createChatroom))
	mux.HandleFunc("PATCH /api/chatrooms/{id}", s.authMiddleware(s.updateChatroom))
	mux.HandleFunc("POST /api/chatrooms/{id}/participants", s.authMiddleware(s.inviteParticipants))
	mux.HandleFunc("DELETE /api/chatrooms/{id}/participants/me", s.authMiddleware(s.leaveChatroom))
	mux.HandleFunc("GET /api/chatrooms/{id}/messages", s.authMiddleware(s.listMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("POST /api/messages/react", s.authMiddleware(s.reactToMessage))
	mux.HandleFunc("POST /api/push/subscriptions", s.authMiddleware(s.registerPushSubscription))

	mux.HandleFunc("GET /api/stream/capabilities", s.authMiddleware(s.streamCapabilities))
	mux.HandleFunc("POST /api/stream/start", s.authMiddleware(s.startStream))
	mux.HandleFunc("POST /api/stream/stop", s.authMiddleware(s.stopStream))
	mux.HandleFunc("POST /api/stream/produce", s.authMiddleware(s.produceStream))
	mux.HandleFunc("POST /api/stream/join", s.authMiddleware(s.joinStream))
	mux.HandleFunc("POST /api/stream/consumers/{id}/connect", s.authMiddleware(s.connectConsumer))

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(uploadFS{http.Dir(s.uploadDir)})))

	var h http.Handler = mux
	if cfg.RateLimit > 0 {
		h = httprate.Limit(
			cfg.RateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(s.rateLimited),
		)(h)
	}

	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
