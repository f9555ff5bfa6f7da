// Package api is the ops HTTP surface: job control, provider lifecycle
// events and read-only catalog access.
package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/catalogarr/catalogarr/internal/auth"
	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
	"github.com/catalogarr/catalogarr/internal/services"
)

type Handler struct {
	store     *repository.Store
	scheduler *services.Scheduler
	lifecycle *services.Lifecycle
	auth      *auth.Authenticator
}

func NewHandler(store *repository.Store, scheduler *services.Scheduler, lifecycle *services.Lifecycle, a *auth.Authenticator) *Handler {
	return &Handler{store: store, scheduler: scheduler, lifecycle: lifecycle, auth: a}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logging.Component("api")
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.List())
}

func (h *Handler) handleJobInfo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	info, err := h.scheduler.Info(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	history, err := h.scheduler.History(r.Context(), name, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":     info,
		"history": history,
	})
}

func (h *Handler) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	// An optional ?provider= narrows the run to one provider.
	scope := r.URL.Query().Get("provider")
	switch err := h.scheduler.Trigger(name, scope); {
	case errors.Is(err, services.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "triggered"})
	}
}

func (h *Handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	switch err := h.scheduler.Cancel(name); {
	case errors.Is(err, services.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "cancelling"})
	}
}

func (h *Handler) handleProviderEvent(w http.ResponseWriter, r *http.Request) {
	var ev services.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	switch err := h.lifecycle.HandleEvent(r.Context(), ev); {
	case errors.Is(err, services.ErrUnknownAction),
		errors.Is(err, services.ErrMissingProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	provs, err := h.store.Providers.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Credentials stay server-side.
	for i := range provs {
		provs[i].Username = ""
		provs[i].Password = ""
	}
	writeJSON(w, http.StatusOK, provs)
}

func (h *Handler) handleListTitles(w http.ResponseWriter, r *http.Request) {
	t := models.MediaType(r.URL.Query().Get("type"))
	if t != "" && t != models.MediaMovies && t != models.MediaTVShows {
		writeError(w, http.StatusBadRequest, "unknown type")
		return
	}
	titles, err := h.store.Titles.List(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, titles)
}

func (h *Handler) handleGetTitle(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	title, err := h.store.Titles.Get(r.Context(), key)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "title not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, title)
}

func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["id"]
	channels, err := h.store.Channels.ListByProvider(r.Context(), providerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, channels)
}
