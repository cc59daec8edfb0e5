package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
	"flowmarket-backend/models"
	"flowmarket-backend/services"
)

// TaskHandler handles the task lifecycle endpoints
type TaskHandler struct {
	*BaseHandler
	svc *services.Services
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(svc *services.Services) *TaskHandler {
	return &TaskHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// HandleCollection handles /api/tasks
func (h *TaskHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleItem handles /api/tasks/{id} and its lifecycle actions
func (h *TaskHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	taskID, action, err := pathID("/api/tasks/", r.URL.Path)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		task, err := h.svc.Tasks.Get(r.Context(), taskID)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, task)

	case action == "" && r.Method == http.MethodPatch:
		h.handleUpdate(w, r, taskID)

	case action == "fund" && r.Method == http.MethodPost:
		var body models.FundTaskRequest
		if err := h.parseJSON(r, &body); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid json")
			return
		}
		actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
		if err != nil {
			h.sendError(w, http.StatusUnauthorized, err.Error())
			return
		}
		task, err := h.svc.Tasks.Fund(r.Context(), taskID, strings.TrimSpace(body.TxHash), actor)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, task)

	case action == "cancel" && r.Method == http.MethodPost:
		h.handleTransition(w, r, func(actor core.User) (core.Task, error) {
			return h.svc.Tasks.Cancel(r.Context(), taskID, actor)
		})

	case action == "complete" && r.Method == http.MethodPost:
		h.handleTransition(w, r, func(actor core.User) (core.Task, error) {
			return h.svc.Tasks.Complete(r.Context(), taskID, actor)
		})

	case action == "subtasks" && r.Method == http.MethodGet:
		filter := core.SubtaskFilter{
			TaskID: taskID,
			Status: core.SubtaskStatus(r.URL.Query().Get("status")),
			Limit:  queryInt(r, "limit", 100),
			Offset: queryInt(r, "offset", 0),
		}
		subtasks, total, err := h.svc.Subtasks.List(r.Context(), filter)
		if err != nil {
			h.sendStoreError(w, err)
			return
		}
		h.sendSuccess(w, models.ListResponse{Items: subtasks, Total: total})

	case action == "subtasks" && r.Method == http.MethodPost:
		h.handleCreateSubtask(w, r, taskID)

	case action == "reorder" && r.Method == http.MethodPost:
		h.handleReorder(w, r, taskID)

	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *TaskHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := core.TaskFilter{
		Status:        core.TaskStatus(r.URL.Query().Get("status")),
		IncludeDrafts: r.URL.Query().Get("include_drafts") == "true",
		Limit:         queryInt(r, "limit", 50),
		Offset:        queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("skills"); raw != "" {
		filter.Skills = strings.Split(raw, ",")
	}

	tasks, total, err := h.svc.Tasks.List(r.Context(), filter)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, models.ListResponse{Items: tasks, Total: total})
}

func (h *TaskHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body models.CreateTaskRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	budget, err := decimal.NewFromString(strings.TrimSpace(body.TotalBudget))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid total_budget")
		return
	}

	task := core.Task{
		Title:            body.Title,
		Description:      body.Description,
		ResearchQuestion: body.ResearchQuestion,
		TotalBudget:      budget,
		SkillsRequired:   body.SkillsRequired,
	}
	if body.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, body.Deadline)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid deadline, expected RFC3339")
			return
		}
		task.Deadline = &deadline
	}

	created, err := h.svc.Tasks.Create(r.Context(), task, actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, models.NewSuccessResponse(created))
}

func (h *TaskHandler) handleUpdate(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	var body struct {
		WalletAddress  string    `json:"wallet_address"`
		Title          *string   `json:"title,omitempty"`
		Description    *string   `json:"description,omitempty"`
		SkillsRequired *[]string `json:"skills_required,omitempty"`
		Deadline       *string   `json:"deadline,omitempty"`
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

	upd := mstore.TaskUpdate{
		Title:          body.Title,
		Description:    body.Description,
		SkillsRequired: body.SkillsRequired,
	}
	if body.Deadline != nil {
		deadline, err := time.Parse(time.RFC3339, *body.Deadline)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid deadline, expected RFC3339")
			return
		}
		upd.Deadline = &deadline
	}

	task, err := h.svc.Tasks.Update(r.Context(), taskID, upd, actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, task)
}

func (h *TaskHandler) handleTransition(w http.ResponseWriter, r *http.Request, op func(core.User) (core.Task, error)) {
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
	task, err := op(actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, task)
}

func (h *TaskHandler) handleCreateSubtask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	var body models.CreateSubtaskRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	budget := decimal.Zero
	if body.Budget != "" {
		budget, err = decimal.NewFromString(strings.TrimSpace(body.Budget))
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid budget")
			return
		}
	}

	st, err := h.svc.Subtasks.Create(r.Context(), core.Subtask{
		TaskID:        taskID,
		Title:         body.Title,
		Description:   body.Description,
		SequenceOrder: body.SequenceOrder,
		Budget:        budget,
	}, actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, models.NewSuccessResponse(st))
}

func (h *TaskHandler) handleReorder(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	var body models.ReorderSubtasksRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, err := resolveActor(r.Context(), h.svc.Users, body.WalletAddress)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	ids, err := parseUUIDs(body.SubtaskIDs)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid subtask_ids")
		return
	}

	subtasks, err := h.svc.Subtasks.Reorder(r.Context(), taskID, ids, actor)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	h.sendSuccess(w, models.ListResponse{Items: subtasks, Total: len(subtasks)})
}
