// Package api exposes the membership and location operations over HTTP and
// websocket.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/flotilla-app/flotilla/internal/middleware"
	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/presence"
	"github.com/flotilla-app/flotilla/internal/publisher"
	"github.com/flotilla-app/flotilla/internal/service"
	"github.com/flotilla-app/flotilla/internal/storage"
	"github.com/flotilla-app/flotilla/internal/validation"
)

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	membership *service.MembershipService
	locations  storage.LocationStore
	propagator *presence.Propagator
	publishers *publisher.Registry
	log        *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	membership *service.MembershipService,
	locations storage.LocationStore,
	propagator *presence.Propagator,
	publishers *publisher.Registry,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		membership: membership,
		locations:  locations,
		propagator: propagator,
		publishers: publishers,
		log:        log,
	}
}

// CreateGroup handles POST /api/v1/groups.
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var trip models.TripInfo
	if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
		writeError(w, &service.ValidationError{Reason: "malformed request body"})
		return
	}

	group, err := h.membership.CreateGroup(r.Context(), userID, trip)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// JoinGroup handles POST /api/v1/groups/join.
func (h *Handlers) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		InviteCode string `json:"invite_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &service.ValidationError{Reason: "malformed request body"})
		return
	}

	group, err := h.membership.JoinGroup(r.Context(), req.InviteCode, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// LeaveGroup handles POST /api/v1/groups/{groupID}/leave.
func (h *Handlers) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupID")

	if err := h.membership.LeaveGroup(r.Context(), groupID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGroup handles GET /api/v1/groups/{groupID}.
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.membership.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// MemberLocations handles GET /api/v1/groups/{groupID}/locations: a one-shot
// snapshot of every other member's latest record, nil for members who have
// never published. Only group members may read it.
func (h *Handlers) MemberLocations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupID")

	group, err := h.membership.GetGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !group.HasMember(userID) {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "not_member", Error: service.ErrNotMember.Error()})
		return
	}

	snapshot := make(map[string]*models.LocationRecord)
	for _, memberID := range group.Others(userID) {
		record, err := h.locations.GetLocation(r.Context(), memberID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				h.log.Warn("Failed to read member location", "member_id", memberID, "error", err)
			}
			snapshot[memberID] = nil
			continue
		}
		snapshot[memberID] = record
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// PublishLocation handles POST /api/v1/locations. The response is 202
// whether the write was accepted or silently throttled; the publisher never
// surfaces transient failures.
func (h *Handlers) PublishLocation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		models.Position
		GroupID string `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &service.ValidationError{Reason: "malformed request body"})
		return
	}
	if err := validation.Struct(req.Position); err != nil {
		writeError(w, &service.ValidationError{Reason: err.Error()})
		return
	}

	h.publishers.For(userID).Publish(r.Context(), userID, req.Position, req.GroupID)
	w.WriteHeader(http.StatusAccepted)
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
