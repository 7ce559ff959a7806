package api

import (
	"net/http"

	"github.com/npezzotti/go-community/internal/stream"
)

type ConnectConsumerRequest struct {
	Sdp string `json:"sdp" validate:"required"`
}

func (s *App) streamCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, http.StatusOK, "Router capabilities", s.stream.Capabilities())
}

func (s *App) startStream(w http.ResponseWriter, r *http.Request) {
	if err := s.stream.Start(); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Streaming started", nil)
}

func (s *App) stopStream(w http.ResponseWriter, r *http.Request) {
	if err := s.stream.Stop(); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Streaming stopped", nil)
}

func (s *App) produceStream(w http.ResponseWriter, r *http.Request) {
	var req stream.ProduceRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	info, err := s.stream.Produce(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Producer created", info)
}

func (s *App) joinStream(w http.ResponseWriter, r *http.Request) {
	info, err := s.stream.Consume(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Consumer created", info)
}

func (s *App) connectConsumer(w http.ResponseWriter, r *http.Request) {
	var req ConnectConsumerRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.stream.ConnectConsumer(r.Context(), r.PathValue("id"), req.Sdp); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Consumer connected", nil)
}
