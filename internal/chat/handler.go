package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// Handler exposes the pull-based boundary: history pages and the presence
// snapshot. The live channel is served by the gateway.
type Handler struct {
	store    *Store
	presence *PresenceTracker
	gateway  *Gateway
}

func NewHandler(store *Store, presence *PresenceTracker, gateway *Gateway) *Handler {
	return &Handler{store: store, presence: presence, gateway: gateway}
}

// ServeWS hands the live channel off to the gateway.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.gateway.ServeWS(w, r)
}

// GetMessages serves GET /api/chat/messages?page=&size=&anchor=.
// The anchor returned with page 0 pins the id ranges of later pages.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", defaultPageSize)
	if size > maxPageSize {
		size = maxPageSize
	}
	anchor, _ := strconv.ParseInt(r.URL.Query().Get("anchor"), 10, 64)

	res, err := h.store.Page(int(page), int(size), anchor)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// GetUserStatuses serves GET /api/chat/user-statuses.
func (h *Handler) GetUserStatuses(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.presence.Snapshot())
}

func queryInt(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
