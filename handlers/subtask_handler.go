package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
	"flowmarket-backend/models"
	"flowmarket-backend/security"
	"flowmarket-backend/services"
)

// SubtaskHandler handles the subtask lifecycle endpoints
type SubtaskHandler struct {
	*BaseHandler
	svc *services.Services
}

// NewSubtaskHandler creates a new subtask handler
func NewSubtaskHandler(svc *services.Services) *SubtaskHandler {
	return &SubtaskHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// HandleCollection handles /api/subtasks
func (h *SubtaskHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filter := core.SubtaskFilter{
		Status: core.SubtaskStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "Invalid task_id")
			return
		}
		filter.TaskID = id
	}

	subtasks, total, err := h.svc.Subtasks.List(r.Context(), filter)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, models.ListResponse{Items: subtasks, Total: total})
}

// HandleItem handles /api/subtasks/{id} and its lifecycle actions
func (h *SubtaskHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	subtaskID, action, err := pathID("/api/subtasks/", r.URL.Path)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid subtask ID")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		st, err := h.svc.Subtasks.Get(r.Context(), subtaskID)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, st)

	case action == "" && r.Method == http.MethodPatch:
		h.handleUpdate(w, r, subtaskID)

	case action == "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, subtaskID)

	case action == "claim" && r.Method == http.MethodPost:
		h.handleClaim(w, r, subtaskID)

	case action == "unclaim" && r.Method == http.MethodPost:
		h.handleActorAction(w, r, func(actor core.User) (interface{}, error) {
			return h.svc.Subtasks.Unclaim(r.Context(), subtaskID, actor)
		})

	case action == "submit" && r.Method == http.MethodPost:
		h.handleSubmit(w, r, subtaskID)

	case action == "approve" && r.Method == http.MethodPost:
		h.handleReview(w, r, subtaskID, true)

	case action == "reject" && r.Method == http.MethodPost:
		h.handleReview(w, r, subtaskID, false)

	case action == "submissions" && r.Method == http.MethodGet:
		submissions, err := h.svc.Subtasks.Submissions(r.Context(), subtaskID)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, models.ListResponse{Items: submissions, Total: len(submissions)})

	case action == "dispute" && r.Method == http.MethodPost:
		h.handleDispute(w, r, subtaskID)

	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *SubtaskHandler) handleUpdate(w http.ResponseWriter, r *http.Request, subtaskID uuid.UUID) {
	var body struct {
		WalletAddress string  `json:"wallet_address"`
		Title         *string `json:"title,omitempty"`
		Description   *string `json:"description,omitempty"`
		Budget        *string `json:"budget,omitempty"`
		Deadline      *string `json:"deadline,omitempty"`
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

	upd := mstore.SubtaskUpdate{
		Title:       body.Title,
		Description: body.Description,
	}
	if body.Budget != nil {
		budget, err := decimal.NewFromString(strings.TrimSpace(*body.Budget))
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid budget")
			return
		}
		upd.Budget = &budget
	}
	if body.Deadline != nil {
		deadline, err := time.Parse(time.RFC3339, *body.Deadline)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid deadline, expected RFC3339")
			return
		}
		upd.Deadline = &deadline
	}

	st, err := h.svc.Subtasks.Update(r.Context(), subtaskID, upd, actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, st)
}

func (h *SubtaskHandler) handleDelete(w http.ResponseWriter, r *http.Request, subtaskID uuid.UUID) {
	wallet := r.URL.Query().Get("wallet_address")
	actor, err := resolveActor(r.Context(), h.svc.Users, wallet)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := h.svc.Subtasks.Delete(r.Context(), subtaskID, actor); err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{"deleted": true})
}

func (h *SubtaskHandler) handleClaim(w http.ResponseWriter, r *http.Request, subtaskID uuid.UUID) {
	var body models.ClaimSubtaskRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	splits := make([]decimal.Decimal, 0, len(body.Splits))
	for _, raw := range body.Splits {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid splits")
			return
		}
		splits = append(splits, d)
	}

	st, err := h.svc.Subtasks.Claim(r.Context(), subtaskID, actor, body.Collaborators, splits)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, st)
}

// handleSubmit accepts multipart form uploads with an artifact file, or
// a JSON body carrying the artifact base64 encoded.
func (h *SubtaskHandler) handleSubmit(w http.ResponseWriter, r *http.Request, subtaskID uuid.UUID) {
	contentType := r.Header.Get("Content-Type")

	var wallet, summary, filename string
	var artifact []byte

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(core.MaxArtifactBytes + 1024*1024); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		wallet = r.FormValue("wallet_address")
		summary = r.FormValue("content_summary")

		file, header, err := r.FormFile("artifact")
		if err == nil {
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, core.MaxArtifactBytes+1))
			if err != nil {
				h.sendError(w, http.StatusBadRequest, "failed to read artifact")
				return
			}
			artifact = data
			filename = security.SanitizeFilename(header.Filename)
		}
	} else {
		var body struct {
			WalletAddress    string `json:"wallet_address"`
			ContentSummary   string `json:"content_summary"`
			ArtifactBase64   string `json:"artifact_base64,omitempty"`
			ArtifactFilename string `json:"artifact_filename,omitempty"`
		}
		if err := h.parseJSON(r, &body); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid json")
			return
		}
		wallet = body.WalletAddress
		summary = body.ContentSummary
		if body.ArtifactBase64 != "" {
			data, err := base64.StdEncoding.DecodeString(body.ArtifactBase64)
			if err != nil {
				h.sendError(w, http.StatusBadRequest, "invalid artifact_base64")
				return
			}
			artifact = data
			filename = security.SanitizeFilename(body.ArtifactFilename)
		}
	}

	actor, err := resolveActor(r.Context(), h.svc.Users, wallet)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	sub, err := h.svc.Subtasks.Submit(r.Context(), subtaskID, actor, summary, artifact, filename)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, models.NewSuccessResponse(sub))
}

func (h *SubtaskHandler) handleReview(w http.ResponseWriter, r *http.Request, subtaskID uuid.UUID, approve bool) {
	var body models.ReviewRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	if approve {
		outcome, err := h.svc.Subtasks.Approve(r.Context(), subtaskID, body.ReviewNotes, actor)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, outcome)
		return
	}

	st, err := h.svc.Subtasks.Reject(r.Context(), subtaskID, body.ReviewNotes, actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, st)
}

func (h *SubtaskHandler) handleDispute(w http.ResponseWriter, r *http.Request, subtaskID uuid.UUID) {
	var body models.RaiseDisputeRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	d, err := h.svc.Disputes.Open(r.Context(), subtaskID, body.Reason, actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, models.NewSuccessResponse(d))
}

func (h *SubtaskHandler) handleActorAction(w http.ResponseWriter, r *http.Request, op func(core.User) (interface{}, error)) {
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
	result, err := op(actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, result)
}
