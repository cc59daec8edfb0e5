package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
)

// registerAddSubtaskTool creates a tool for decomposing a task
func (s *MCPServer) registerAddSubtaskTool() {
	tool := mcp.NewTool("add_subtask",
		mcp.WithDescription("Add a subtask to a task that still accepts decomposition"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Parent task ID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Subtask title")),
		mcp.WithString("description", mcp.Description("Subtask description")),
		mcp.WithNumber("sequence_order", mcp.Description("Position within the task")),
		mcp.WithString("budget", mcp.Description("Subtask budget as a decimal string")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		taskID, err := requireUUID(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		title, err := request.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()

		budget := decimal.Zero
		if raw := toString(args["budget"]); raw != "" {
			budget, err = decimal.NewFromString(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Invalid budget: %v", err)), nil
			}
		}

		st, err := s.svc.Subtasks.Create(ctx, core.Subtask{
			TaskID:        taskID,
			Title:         title,
			Description:   toString(args["description"]),
			SequenceOrder: int(toInt64(args["sequence_order"])),
			Budget:        budget,
		}, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to add subtask: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Subtask added:\n\n%+v", st)), nil
	})
}

// registerListSubtasksTool creates a tool for listing subtasks
func (s *MCPServer) registerListSubtasksTool() {
	tool := mcp.NewTool("list_subtasks",
		mcp.WithDescription("List subtasks with optional filtering"),
		mcp.WithString("task_id", mcp.Description("Filter by parent task ID")),
		mcp.WithString("status", mcp.Description("Filter by subtask status, e.g. open")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of subtasks to return")),
		mcp.WithNumber("offset", mcp.Description("Number of subtasks to skip")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		filter := core.SubtaskFilter{
			Status: core.SubtaskStatus(toString(args["status"])),
			Limit:  int(toInt64(args["limit"])),
			Offset: int(toInt64(args["offset"])),
		}
		if raw := toString(args["task_id"]); raw != "" {
			id, err := parseUUID(raw, "task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			filter.TaskID = id
		}
		if filter.Limit == 0 {
			filter.Limit = 50
		}

		subtasks, total, err := s.svc.Subtasks.List(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list subtasks: %v", err)), nil
		}

		result := map[string]interface{}{
			"subtasks":    subtasks,
			"total_count": total,
		}
		return mcp.NewToolResultText(fmt.Sprintf("Found %d subtasks:\n\n%+v", total, result)), nil
	})
}

// registerClaimSubtaskTool creates a tool for claiming an open subtask
func (s *MCPServer) registerClaimSubtaskTool() {
	tool := mcp.NewTool("claim_subtask",
		mcp.WithDescription("Claim an open subtask, optionally with collaborators and payment splits"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("subtask_id", mcp.Required(), mcp.Description("ID of subtask to claim")),
		mcp.WithArray("collaborators", mcp.Description("Collaborator wallet addresses")),
		mcp.WithArray("splits", mcp.Description("Payment split percentages, claimant first, summing to 100")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subtaskID, err := requireUUID(request, "subtask_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()

		splits, err := toDecimalSlice(args["splits"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid splits: %v", err)), nil
		}

		st, err := s.svc.Subtasks.Claim(ctx, subtaskID, actor, toStringSlice(args["collaborators"]), splits)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to claim subtask: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Subtask claimed:\n\n%+v", st)), nil
	})
}

// registerUnclaimSubtaskTool creates a tool for releasing a claim
func (s *MCPServer) registerUnclaimSubtaskTool() {
	tool := mcp.NewTool("unclaim_subtask",
		mcp.WithDescription("Release a claimed subtask back to open"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("subtask_id", mcp.Required(), mcp.Description("ID of subtask to release")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subtaskID, err := requireUUID(request, "subtask_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		st, err := s.svc.Subtasks.Unclaim(ctx, subtaskID, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to unclaim subtask: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Subtask released:\n\n%+v", st)), nil
	})
}

// registerSubmitWorkTool creates a tool for submitting work
func (s *MCPServer) registerSubmitWorkTool() {
	tool := mcp.NewTool("submit_work",
		mcp.WithDescription("Submit work for a claimed subtask, optionally with an artifact file"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("subtask_id", mcp.Required(), mcp.Description("ID of subtask to submit for")),
		mcp.WithString("content_summary", mcp.Required(), mcp.Description("Summary of the delivered work")),
		mcp.WithString("artifact_base64", mcp.Description("Artifact file content, base64 encoded")),
		mcp.WithString("artifact_filename", mcp.Description("Artifact filename; extension must be json, csv, md, or txt")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subtaskID, err := requireUUID(request, "subtask_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		summary, err := request.RequireString("content_summary")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()

		var artifact []byte
		if raw := toString(args["artifact_base64"]); raw != "" {
			artifact, err = base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Invalid artifact_base64: %v", err)), nil
			}
		}

		sub, err := s.svc.Subtasks.Submit(ctx, subtaskID, actor, summary, artifact, toString(args["artifact_filename"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to submit work: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Work submitted:\n\n%+v", sub)), nil
	})
}

// registerApproveSubtaskTool creates a tool for approving a submission
func (s *MCPServer) registerApproveSubtaskTool() {
	tool := mcp.NewTool("approve_subtask",
		mcp.WithDescription("Approve a submitted subtask and release the escrow payment"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("subtask_id", mcp.Required(), mcp.Description("ID of subtask to approve")),
		mcp.WithString("review_notes", mcp.Description("Optional review notes")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subtaskID, err := requireUUID(request, "subtask_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()

		out, err := s.svc.Subtasks.Approve(ctx, subtaskID, toString(args["review_notes"]), actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to approve subtask: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Subtask approved (payment: %s):\n\n%+v", out.Release, out)), nil
	})
}

// registerRejectSubtaskTool creates a tool for rejecting a submission
func (s *MCPServer) registerRejectSubtaskTool() {
	tool := mcp.NewTool("reject_subtask",
		mcp.WithDescription("Reject a submitted subtask with review notes; the worker may rework and resubmit"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("subtask_id", mcp.Required(), mcp.Description("ID of subtask to reject")),
		mcp.WithString("review_notes", mcp.Required(), mcp.Description("Why the work was rejected")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subtaskID, err := requireUUID(request, "subtask_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		notes, err := request.RequireString("review_notes")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		st, err := s.svc.Subtasks.Reject(ctx, subtaskID, notes, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to reject subtask: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Subtask rejected:\n\n%+v", st)), nil
	})
}

// registerRaiseDisputeTool creates a tool for raising a dispute
func (s *MCPServer) registerRaiseDisputeTool() {
	tool := mcp.NewTool("raise_dispute",
		mcp.WithDescription("Raise a dispute on a subtask you participate in"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("subtask_id", mcp.Required(), mcp.Description("ID of subtask in dispute")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the dispute is raised")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subtaskID, err := requireUUID(request, "subtask_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reason, err := request.RequireString("reason")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		d, err := s.svc.Disputes.Open(ctx, subtaskID, reason, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to raise dispute: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Dispute raised:\n\n%+v", d)), nil
	})
}

// registerResolveDisputeTool creates a tool for resolving a dispute
func (s *MCPServer) registerResolveDisputeTool() {
	tool := mcp.NewTool("resolve_dispute",
		mcp.WithDescription("Resolve an open dispute for the named winner (admin only)"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address, must be an admin")),
		mcp.WithString("dispute_id", mcp.Required(), mcp.Description("ID of dispute to resolve")),
		mcp.WithString("winner_wallet", mcp.Required(), mcp.Description("Wallet address of the winning party")),
		mcp.WithString("resolution", mcp.Description("Resolution notes")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		disputeID, err := requireUUID(request, "dispute_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		winnerWallet, err := request.RequireString("winner_wallet")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		winner, err := s.svc.Users.GetByWallet(ctx, winnerWallet)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Unknown winner wallet: %v", err)), nil
		}
		args := request.GetArguments()

		res, err := s.svc.Disputes.Resolve(ctx, disputeID, winner.ID, toString(args["resolution"]), actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve dispute: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Dispute resolved:\n\n%+v", res)), nil
	})
}

// registerListDisputesTool creates a tool for listing disputes
func (s *MCPServer) registerListDisputesTool() {
	tool := mcp.NewTool("list_disputes",
		mcp.WithDescription("List disputes with optional status filtering"),
		mcp.WithString("status", mcp.Description("Filter by dispute status, open or resolved")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of disputes to return")),
		mcp.WithNumber("offset", mcp.Description("Number of disputes to skip")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		filter := core.DisputeFilter{
			Status: core.DisputeStatus(toString(args["status"])),
			Limit:  int(toInt64(args["limit"])),
			Offset: int(toInt64(args["offset"])),
		}
		if filter.Limit == 0 {
			filter.Limit = 50
		}

		disputes, total, err := s.svc.Disputes.List(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list disputes: %v", err)), nil
		}

		result := map[string]interface{}{
			"disputes":    disputes,
			"total_count": total,
		}
		return mcp.NewToolResultText(fmt.Sprintf("Found %d disputes:\n\n%+v", total, result)), nil
	})
}

// toDecimalSlice parses tool arguments into decimals.
func toDecimalSlice(val interface{}) ([]decimal.Decimal, error) {
	items, ok := val.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			out = append(out, decimal.NewFromFloat(v))
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		default:
			return nil, fmt.Errorf("unsupported split value %v", item)
		}
	}
	return out, nil
}

// parseUUID parses an optional string argument as a UUID.
func parseUUID(raw, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %v", key, err)
	}
	return id, nil
}
