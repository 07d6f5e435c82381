package localapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coff33ninja/lanrage/internal/party"
)

// StatusProvider is the subset of *party.Runtime the local API needs: a
// single read-only snapshot of the active party and its peers.
type StatusProvider interface {
	Status() (party.Status, error)
}

// handler serves the read-only status surface §6.3's "Local status
// surface" describes: GET /v1/party and GET /v1/peers, both backed by
// the same Status() snapshot so the two responses are never
// inconsistent with each other.
type handler struct {
	provider StatusProvider
}

func newHandler(provider StatusProvider) *handler {
	return &handler{provider: provider}
}

func (h *handler) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/party", h.handleParty)
	mux.HandleFunc("/v1/peers", h.handlePeers)
	return mux
}

func (h *handler) handleParty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := h.provider.Status()
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status.Party)
}

func (h *handler) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := h.provider.Status()
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status.Peers)
}

func writeStatusError(w http.ResponseWriter, err error) {
	if errors.Is(err, party.ErrNoActiveParty) {
		writeError(w, http.StatusNotFound, "no active party")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
