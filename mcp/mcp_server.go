package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	"flowmarket-backend/services"
)

// MCPServer exposes the marketplace lifecycle as MCP tools so agents
// can browse, claim, and deliver research work. Callers identify
// themselves by wallet address; the wallet must belong to a registered,
// non-banned user.
type MCPServer struct {
	mcpServer *server.MCPServer
	svc       *services.Services
}

// NewMCPServer creates a new MCP server using the mcp-go library
func NewMCPServer(svc *services.Services) *MCPServer {
	mcpServer := server.NewMCPServer(
		"FlowMarket MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		svc:       svc,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// registerTools registers all MCP tools with the server
func (s *MCPServer) registerTools() {
	// User tools
	s.registerRegisterUserTool()
	s.registerGetProfileTool()

	// Task tools
	s.registerListTasksTool()
	s.registerGetTaskTool()
	s.registerCreateTaskTool()
	s.registerFundTaskTool()
	s.registerCompleteTaskTool()
	s.registerCancelTaskTool()

	// Subtask tools
	s.registerAddSubtaskTool()
	s.registerListSubtasksTool()
	s.registerClaimSubtaskTool()
	s.registerUnclaimSubtaskTool()
	s.registerSubmitWorkTool()
	s.registerApproveSubtaskTool()
	s.registerRejectSubtaskTool()

	// Dispute tools
	s.registerRaiseDisputeTool()
	s.registerResolveDisputeTool()
	s.registerListDisputesTool()
}

// actor resolves the calling wallet to a registered user.
func (s *MCPServer) actor(ctx context.Context, request mcp.CallToolRequest) (core.User, error) {
	wallet, err := request.RequireString("wallet_address")
	if err != nil {
		return core.User{}, err
	}
	profile, err := s.svc.Users.GetByWallet(ctx, wallet)
	if err != nil {
		return core.User{}, fmt.Errorf("unknown wallet %s: register_user first", wallet)
	}
	if profile.IsBanned {
		return core.User{}, fmt.Errorf("wallet %s is banned: %s", wallet, profile.BannedReason)
	}
	return profile.User, nil
}

// registerRegisterUserTool creates a tool for registering a wallet
func (s *MCPServer) registerRegisterUserTool() {
	tool := mcp.NewTool("register_user",
		mcp.WithDescription("Register a wallet address as a marketplace participant"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Wallet address to register")),
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithArray("skills", mcp.Description("Skills offered")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		wallet, err := request.RequireString("wallet_address")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()

		profile, err := s.svc.Users.Register(ctx, wallet, toString(args["name"]), toStringSlice(args["skills"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to register user: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("User registered:\n\n%+v", profile)), nil
	})
}

// registerGetProfileTool creates a tool for reading a profile with reputation
func (s *MCPServer) registerGetProfileTool() {
	tool := mcp.NewTool("get_profile",
		mcp.WithDescription("Get a participant's profile with reputation score and tier"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Wallet address to look up")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		wallet, err := request.RequireString("wallet_address")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		profile, err := s.svc.Users.GetByWallet(ctx, wallet)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get profile: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Profile:\n\n%+v", profile)), nil
	})
}

// registerListTasksTool creates a tool for listing tasks
func (s *MCPServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List research tasks with optional filtering"),
		mcp.WithString("status", mcp.Description("Filter by task status")),
		mcp.WithArray("skills", mcp.Description("Filter by required skills")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return")),
		mcp.WithNumber("offset", mcp.Description("Number of tasks to skip")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		filter := core.TaskFilter{
			Status: core.TaskStatus(toString(args["status"])),
			Skills: toStringSlice(args["skills"]),
			Limit:  int(toInt64(args["limit"])),
			Offset: int(toInt64(args["offset"])),
		}
		if filter.Limit == 0 {
			filter.Limit = 50
		}

		tasks, total, err := s.svc.Tasks.List(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}

		result := map[string]interface{}{
			"tasks":       tasks,
			"total_count": total,
		}
		return mcp.NewToolResultText(fmt.Sprintf("Found %d tasks:\n\n%+v", total, result)), nil
	})
}

// registerGetTaskTool creates a tool for getting a task with its subtasks
func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get a task and its subtasks"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to retrieve")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := requireUUID(request, "task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.svc.Tasks.Get(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}
		subtasks, _, err := s.svc.Subtasks.List(ctx, core.SubtaskFilter{TaskID: taskID})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list subtasks: %v", err)), nil
		}

		result := map[string]interface{}{
			"task":     task,
			"subtasks": subtasks,
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task details:\n\n%+v", result)), nil
	})
}

// registerCreateTaskTool creates a tool for creating a draft task
func (s *MCPServer) registerCreateTaskTool() {
	tool := mcp.NewTool("create_task",
		mcp.WithDescription("Create a draft research task (admin only)"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("research_question", mcp.Description("The research question")),
		mcp.WithString("total_budget", mcp.Required(), mcp.Description("Total budget as a decimal string")),
		mcp.WithArray("skills_required", mcp.Description("Required skills")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := s.actor(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		title, err := request.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()
		budget, err := decimal.NewFromString(toString(args["total_budget"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid total_budget: %v", err)), nil
		}

		task, err := s.svc.Tasks.Create(ctx, core.Task{
			Title:            title,
			Description:      toString(args["description"]),
			ResearchQuestion: toString(args["research_question"]),
			TotalBudget:      budget,
			SkillsRequired:   toStringSlice(args["skills_required"]),
		}, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create task: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task created:\n\n%+v", task)), nil
	})
}

// registerFundTaskTool creates a tool for recording escrow funding
func (s *MCPServer) registerFundTaskTool() {
	tool := mcp.NewTool("fund_task",
		mcp.WithDescription("Record the escrow deposit for a draft task"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to fund")),
		mcp.WithString("escrow_tx_hash", mcp.Required(), mcp.Description("Hash of the escrow deposit transaction")),
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
		txHash, err := request.RequireString("escrow_tx_hash")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		task, err := s.svc.Tasks.Fund(ctx, taskID, txHash, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fund task: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task funded:\n\n%+v", task)), nil
	})
}

// registerCompleteTaskTool creates a tool for completing a task
func (s *MCPServer) registerCompleteTaskTool() {
	tool := mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task completed once every subtask is approved"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to complete")),
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
		task, err := s.svc.Tasks.Complete(ctx, taskID, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to complete task: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task completed:\n\n%+v", task)), nil
	})
}

// registerCancelTaskTool creates a tool for cancelling a task
func (s *MCPServer) registerCancelTaskTool() {
	tool := mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel a task that has no active subtasks"),
		mcp.WithString("wallet_address", mcp.Required(), mcp.Description("Caller wallet address")),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to cancel")),
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
		task, err := s.svc.Tasks.Cancel(ctx, taskID, actor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel task: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task cancelled:\n\n%+v", task)), nil
	})
}

// requireUUID parses a required tool argument as a UUID.
func requireUUID(request mcp.CallToolRequest, key string) (uuid.UUID, error) {
	raw, err := request.RequireString(key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %v", key, err)
	}
	return id, nil
}

// Helper function to convert interface{} to string
func toString(val interface{}) string {
	if val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// Helper function to convert interface{} to int64
func toInt64(val interface{}) int64 {
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	if f, ok := val.(float64); ok {
		return int64(f)
	}
	if str, ok := val.(string); ok {
		if i, err := strconv.ParseInt(str, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// Helper function to convert interface{} to []string
func toStringSlice(val interface{}) []string {
	items, ok := val.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
