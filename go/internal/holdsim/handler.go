package holdsim

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/clients"
)

const holdPath = "/bookings/show-times/{showtimeId}/users/{userId}/seat-hold"

// Handler serves the booking REST endpoints and the push WebSocket.
type Handler struct {
	holds       *HoldStore
	connections *ConnectionManager
}

func NewHandler(holds *HoldStore, connections *ConnectionManager) *Handler {
	return &Handler{holds: holds, connections: connections}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+holdPath+"/ttl", h.handleTTL)
	mux.HandleFunc("POST "+holdPath, h.handleHold)
	mux.HandleFunc("DELETE "+holdPath, h.handleRelease)
	mux.HandleFunc("/ws/seat-hold", h.handlePush)
}

func holdKey(r *http.Request) HoldKey {
	return HoldKey{ShowtimeID: r.PathValue("showtimeId"), UserID: r.PathValue("userId")}
}

func writeEnvelope[T any](w http.ResponseWriter, status int, message string, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(clients.Envelope[T]{Status: status, Message: message, Data: data}); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) handleTTL(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, "", h.holds.TTL(holdKey(r)))
}

type holdResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleHold(w http.ResponseWriter, r *http.Request) {
	var req clients.SeatHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid request body", holdResponse{})
		return
	}

	key := holdKey(r)
	expiresAt, err := h.holds.Hold(key, req.SeatIDs, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoSeats) || errors.Is(err, ErrInvalidTTL) {
			status = http.StatusBadRequest
		}
		writeEnvelope(w, status, err.Error(), holdResponse{})
		return
	}
	writeEnvelope(w, http.StatusOK, "", holdResponse{ExpiresAt: expiresAt})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	if !h.holds.Release(holdKey(r)) {
		writeEnvelope(w, http.StatusNotFound, "no seat hold", false)
		return
	}
	writeEnvelope(w, http.StatusOK, "", true)
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	key := HoldKey{
		ShowtimeID: r.URL.Query().Get("showtime_id"),
		UserID:     r.URL.Query().Get("user_id"),
	}
	if key.ShowtimeID == "" || key.UserID == "" {
		http.Error(w, "showtime_id and user_id are required", http.StatusBadRequest)
		return
	}

	// Upgrade writes its own error response on failure
	if err := h.connections.UpgradeConnection(w, r, key); err != nil {
		log.Error().
			Err(err).
			Str("showtime_id", key.ShowtimeID).
			Str("user_id", key.UserID).
			Msg("failed to upgrade WebSocket connection")
	}
}
