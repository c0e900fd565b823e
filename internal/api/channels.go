package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clipstream/clipstream/internal/news"
)

type createChannelRequest struct {
	Name string `json:"name"`
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := news.ValidateChannelName(req.Name); err != nil {
		writeDomainError(w, err)
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate channel id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	channel := news.Channel{
		ID:        id,
		Name:      req.Name,
		OwnerID:   userIDFrom(r.Context()),
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateChannel(r.Context(), channel); err != nil {
		s.logger.Error("create channel failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, channel)
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	page, err := s.parsePage(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	channels, err := s.store.ListChannels(r.Context(), page)
	if err != nil {
		s.logger.Error("list channels failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := s.store.GetChannel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

// deleteChannel removes the channel and, through the store, every article in
// it.
func (s *Server) deleteChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	channel, err := s.store.GetChannel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := checkOwner("DELETE /v1/channels/{id}", userIDFrom(r.Context()), channel.OwnerID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.store.DeleteChannel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
