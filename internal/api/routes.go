package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the ops API router with authentication applied.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/api/auth/login", h.handleLogin).Methods("POST")

	r.HandleFunc("/api/jobs", h.handleListJobs).Methods("GET")
	r.HandleFunc("/api/jobs/{name}", h.handleJobInfo).Methods("GET")
	r.HandleFunc("/api/jobs/{name}/trigger", h.handleTriggerJob).Methods("POST")
	r.HandleFunc("/api/jobs/{name}/cancel", h.handleCancelJob).Methods("POST")

	r.HandleFunc("/api/providers", h.handleListProviders).Methods("GET")
	r.HandleFunc("/api/providers/events", h.handleProviderEvent).Methods("POST")
	r.HandleFunc("/api/providers/{id}/channels", h.handleListChannels).Methods("GET")

	r.HandleFunc("/api/titles", h.handleListTitles).Methods("GET")
	r.HandleFunc("/api/titles/{key}", h.handleGetTitle).Methods("GET")

	return h.auth.Middleware(r)
}
