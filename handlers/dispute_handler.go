package handlers

import (
	"net/http"

	core "flowmarket-backend/core/marketplace"
	"flowmarket-backend/models"
	"flowmarket-backend/services"
)

// DisputeHandler handles the dispute endpoints
type DisputeHandler struct {
	*BaseHandler
	svc *services.Services
}

// NewDisputeHandler creates a new dispute handler
func NewDisputeHandler(svc *services.Services) *DisputeHandler {
	return &DisputeHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// HandleCollection handles /api/disputes
func (h *DisputeHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filter := core.DisputeFilter{
		Status: core.DisputeStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	disputes, total, err := h.svc.Disputes.List(r.Context(), filter)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, models.ListResponse{Items: disputes, Total: total})
}

// HandleItem handles /api/disputes/{id} and resolution
func (h *DisputeHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	disputeID, action, err := pathID("/api/disputes/", r.URL.Path)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid dispute ID")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		d, err := h.svc.Disputes.Get(r.Context(), disputeID)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, d)

	case action == "resolve" && r.Method == http.MethodPost:
		var body models.ResolveDisputeRequest
		if err := h.parseJSON(r, &body); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid json")
			return
		}
		actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
		if err != nil {
			h.sendError(w, http.StatusUnauthorized, err.Error())
			return
		}
		winner, err := h.svc.Users.GetByWallet(r.Context(), body.WinnerWallet)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}

		res, err := h.svc.Disputes.Resolve(r.Context(), disputeID, winner.ID, body.Resolution, actor)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, res)

	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
