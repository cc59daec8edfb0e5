package models

import "time"

// RegisterUserRequest represents a user registration request
type RegisterUserRequest struct {
	WalletAddress string   `json:"wallet_address"`
	Name          string   `json:"name"`
	Skills        []string `json:"skills,omitempty"`
}

// CreateTaskRequest represents a task creation request
type CreateTaskRequest struct {
	WalletAddress    string   `json:"wallet_address"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	ResearchQuestion string   `json:"research_question,omitempty"`
	TotalBudget      string   `json:"total_budget"`
	SkillsRequired   []string `json:"skills_required,omitempty"`
	Deadline         string   `json:"deadline,omitempty"`
}

// FundTaskRequest represents an escrow funding confirmation
type FundTaskRequest struct {
	WalletAddress string `json:"wallet_address"`
	TxHash        string `json:"tx_hash"`
}

// CreateSubtaskRequest represents a subtask creation request
type CreateSubtaskRequest struct {
	WalletAddress string `json:"wallet_address"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	SequenceOrder int    `json:"sequence_order,omitempty"`
	Budget        string `json:"budget,omitempty"`
}

// ClaimSubtaskRequest represents a claim, optionally with collaborators
type ClaimSubtaskRequest struct {
	WalletAddress string   `json:"wallet_address"`
	Collaborators []string `json:"collaborators,omitempty"`
	Splits        []string `json:"splits,omitempty"`
}

// ReviewRequest carries approval or rejection notes
type ReviewRequest struct {
	WalletAddress string `json:"wallet_address"`
	ReviewNotes   string `json:"review_notes,omitempty"`
}

// RaiseDisputeRequest represents a dispute being opened
type RaiseDisputeRequest struct {
	WalletAddress string `json:"wallet_address"`
	Reason        string `json:"reason"`
}

// ResolveDisputeRequest represents an admin dispute resolution
type ResolveDisputeRequest struct {
	WalletAddress string `json:"wallet_address"`
	WinnerWallet  string `json:"winner_wallet"`
	Resolution    string `json:"resolution,omitempty"`
}

// ReorderSubtasksRequest represents a subtask reordering
type ReorderSubtasksRequest struct {
	WalletAddress string   `json:"wallet_address"`
	SubtaskIDs    []string `json:"subtask_ids"`
}

// ListResponse wraps a paginated collection
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorResponse represents API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// QRCodeRequest represents QR code generation request
type QRCodeRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount,omitempty"`
}

// APIResponse represents a generic API response
type APIResponse struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   *ErrorResponse         `json:"error,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) *APIResponse {
	return &APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(error string, code int) *APIResponse {
	return &APIResponse{
		Success: false,
		Error: &ErrorResponse{
			Error:     error,
			Message:   error,
			Code:      code,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// NewErrorResponseWithHint creates an error response with a hint.
func NewErrorResponseWithHint(error string, code int, hint string) *APIResponse {
	resp := NewErrorResponse(error, code)
	if resp != nil && resp.Error != nil {
		resp.Error.Hint = hint
	}
	return resp
}

// NewSuccessResponseWithMeta creates a success response with metadata
func NewSuccessResponseWithMeta(data interface{}, meta map[string]interface{}) *APIResponse {
	return &APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	}
}
