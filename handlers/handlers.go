package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
	"flowmarket-backend/models"
	"flowmarket-backend/services"
)

// BaseHandler provides common functionality for all handlers
type BaseHandler struct{}

// NewBaseHandler creates a new base handler
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// sendJSON sends a JSON response
func (h *BaseHandler) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// sendError sends an error response
func (h *BaseHandler) sendError(w http.ResponseWriter, statusCode int, message string) {
	errorResp := models.NewErrorResponse(message, statusCode)
	h.sendJSON(w, statusCode, errorResp)
}

// sendSuccess sends a success response
func (h *BaseHandler) sendSuccess(w http.ResponseWriter, data interface{}) {
	successResp := models.NewSuccessResponse(data)
	h.sendJSON(w, http.StatusOK, successResp)
}

// parseJSON parses JSON from request
func (h *BaseHandler) parseJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// sendStoreError maps a lifecycle error to an HTTP status.
func (h *BaseHandler) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mstore.ErrTaskNotFound),
		errors.Is(err, mstore.ErrSubtaskNotFound),
		errors.Is(err, mstore.ErrSubmissionNotFound),
		errors.Is(err, mstore.ErrDisputeNotFound),
		errors.Is(err, mstore.ErrUserNotFound):
		h.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, mstore.ErrNotAuthorized):
		h.sendError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, mstore.ErrSubtaskUnavailable),
		errors.Is(err, mstore.ErrStateConflict):
		h.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mstore.ErrValidation):
		h.sendError(w, http.StatusBadRequest, err.Error())
	default:
		h.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

// resolveActor looks up the calling user by wallet address.
func resolveActor(ctx context.Context, users *services.UserService, wallet string) (core.User, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return core.User{}, errors.New("wallet_address required")
	}
	profile, err := users.GetByWallet(ctx, wallet)
	if err != nil {
		return core.User{}, err
	}
	if profile.IsBanned {
		return core.User{}, errors.New("account is banned")
	}
	return profile.User, nil
}

// pathID extracts a UUID path segment after the given prefix,
// e.g. pathID("/api/tasks/", "/api/tasks/<id>/fund") returns <id>.
func pathID(prefix, path string) (uuid.UUID, string, error) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", err
	}
	action := ""
	if len(parts) == 2 {
		action = strings.Trim(parts[1], "/")
	}
	return id, action, nil
}

// parseUUIDs parses a list of UUID strings.
func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// HealthHandler handles health check requests
type HealthHandler struct {
	*BaseHandler
}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{BaseHandler: NewBaseHandler()}
}

// HandleHealth handles health check requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	h.sendSuccess(w, models.HealthResponse{
		Status:    "healthy",
		Message:   "FlowMarket backend is running",
		Timestamp: time.Now().Unix(),
	})
}

// QRCodeHandler handles funding QR code requests
type QRCodeHandler struct {
	*BaseHandler
	qrService *services.QRCodeService
}

// NewQRCodeHandler creates a new QR code handler
func NewQRCodeHandler(qrService *services.QRCodeService) *QRCodeHandler {
	return &QRCodeHandler{
		BaseHandler: NewBaseHandler(),
		qrService:   qrService,
	}
}

// HandleGenerateQRCode handles QR code generation
func (h *QRCodeHandler) HandleGenerateQRCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	address := r.URL.Query().Get("address")
	amount := r.URL.Query().Get("amount")

	if address == "" {
		h.sendError(w, http.StatusBadRequest, "Address parameter required")
		return
	}

	qrData, err := h.qrService.GenerateQRCode(address, amount)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(qrData)
}
