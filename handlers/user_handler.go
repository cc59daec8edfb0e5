package handlers

import (
	"net/http"
	"strconv"
	"strings"

	core "flowmarket-backend/core/marketplace"
	"flowmarket-backend/models"
	"flowmarket-backend/services"
)

// UserHandler handles user registration, profiles, and admin actions
type UserHandler struct {
	*BaseHandler
	svc *services.Services
}

// NewUserHandler creates a new user handler
func NewUserHandler(svc *services.Services) *UserHandler {
	return &UserHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// HandleCollection handles /api/users
func (h *UserHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleRegister(w, r)
	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleItem handles /api/users/{id} and admin actions
func (h *UserHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	userID, action, err := pathID("/api/users/", r.URL.Path)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		profile, err := h.svc.Users.Get(r.Context(), userID)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, profile)

	case action == "verify" && r.Method == http.MethodPost:
		h.handleAdminAction(w, r, func(actor core.User) (services.Profile, error) {
			return h.svc.Users.Verify(r.Context(), userID, actor)
		})

	case action == "ban" && r.Method == http.MethodPost:
		var body struct {
			WalletAddress string `json:"wallet_address"`
			Reason        string `json:"reason"`
		}
		if err := h.parseJSON(r, &body); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid json")
			return
		}
		actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
		if err != nil {
			h.sendError(w, http.StatusUnauthorized, err.Error())
			return
		}
		profile, err := h.svc.Users.Ban(r.Context(), userID, body.Reason, actor)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, profile)

	case action == "unban" && r.Method == http.MethodPost:
		h.handleAdminAction(w, r, func(actor core.User) (services.Profile, error) {
			return h.svc.Users.Unban(r.Context(), userID, actor)
		})

	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleByWallet handles /api/users/wallet/{address}
func (h *UserHandler) HandleByWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	wallet := strings.TrimPrefix(r.URL.Path, "/api/users/wallet/")
	wallet = strings.Trim(wallet, "/")
	if wallet == "" {
		h.sendError(w, http.StatusBadRequest, "wallet address required")
		return
	}

	profile, err := h.svc.Users.GetByWallet(r.Context(), wallet)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, profile)
}

func (h *UserHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := core.UserFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("verified"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filter.Verified = &v
		}
	}
	if raw := r.URL.Query().Get("banned"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filter.Banned = &v
		}
	}

	profiles, total, err := h.svc.Users.List(r.Context(), filter)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, models.ListResponse{Items: profiles, Total: total})
}

func (h *UserHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body models.RegisterUserRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}

	profile, err := h.svc.Users.Register(r.Context(), body.WalletAddress, body.Name, body.Skills)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, models.NewSuccessResponse(profile))
}

func (h *UserHandler) handleAdminAction(w http.ResponseWriter, r *http.Request, op func(core.User) (services.Profile, error)) {
	var body struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}
	profile, err := op(actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, profile)
}
