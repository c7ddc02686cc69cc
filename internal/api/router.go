package api

import (
	"github.com/gorilla/mux"
)

// NewRouter wires the HTTP surface for the discovery pipeline.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/discoveries", h.SubmitDiscovery).Methods("POST")
	v1.HandleFunc("/discoveries/{token}", h.GetDiscovery).Methods("GET")

	return r
}
