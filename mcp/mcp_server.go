package mcp

import (
	"context"
	"strings"

	"escrow-backend/core/escrow"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the escrow ledger as MCP tools.
type MCPServer struct {
	mcpServer *server.MCPServer
	ledger    *escrow.Ledger
	identity  escrow.Identity
	handlers  map[string]server.ToolHandlerFunc
}

// NewMCPServer creates a new MCP server using the mcp-go library. When
// identity is set every tool acts as that identity and the caller argument is
// ignored.
func NewMCPServer(ledger *escrow.Ledger, identity escrow.Identity) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Escrow MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		ledger:    ledger,
		identity:  identity.Normalize(),
		handlers:  make(map[string]server.ToolHandlerFunc),
	}

	s.registerTools()

	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ToolNames lists the registered tools.
func (s *MCPServer) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

// CallTool invokes a registered tool handler directly.
func (s *MCPServer) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	h, ok := s.handlers[name]
	if !ok {
		return mcp.NewToolResultError("unknown tool " + name), nil
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return h(ctx, req)
}

func (s *MCPServer) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.handlers[tool.Name] = h
	s.mcpServer.AddTool(tool, h)
}

// registerTools registers all MCP tools with the server
func (s *MCPServer) registerTools() {
	// Reads
	s.registerGetTaskTool()
	s.registerAgentToTaskTool()
	s.registerListTasksTool()
	s.registerGetSettlementTool()
	s.registerGetBalanceTool()
	s.registerAuditTool()

	// Owner
	s.registerAddTaskTool()
	s.registerActionTool("delete_task", "Withdraw an unaccepted task and return its deposit to the owner", action(s.ledger.DeleteTask))
	s.registerActionTool("accept_completion", "Approve submitted work and release the deposit to the agent", action(s.ledger.AcceptCompletion))

	// Agent
	s.registerActionTool("accept_task", "Accept an open task as its agent", action(s.ledger.AcceptTask))
	s.registerActionTool("abandon_task", "Give up an accepted task and reopen it", action(s.ledger.AbandonTask))
	s.registerActionTool("task_submitted", "Mark accepted work as submitted", action(s.ledger.TaskSubmitted))

	// Disputes
	s.registerActionTool("raise_dispute", "Raise a dispute on submitted work", action(s.ledger.RaiseDispute))
	s.registerActionTool("pay_agent", "Arbiter ruling: release a disputed deposit to the agent", action(s.ledger.PayAgent))
	s.registerActionTool("refund_beneficiary", "Arbiter ruling: refund the deposit to the owner", action(s.ledger.RefundBeneficiary))
}

type actionFunc func(ctx context.Context, caller escrow.Identity, id escrow.TaskID) (interface{}, error)

func action[T any](f func(context.Context, escrow.Identity, escrow.TaskID) (T, error)) actionFunc {
	return func(ctx context.Context, caller escrow.Identity, id escrow.TaskID) (interface{}, error) {
		return f(ctx, caller, id)
	}
}

func (s *MCPServer) callerOption() mcp.ToolOption {
	if !s.identity.IsZero() {
		return mcp.WithString("caller", mcp.Description("Ignored: this server acts as "+string(s.identity)))
	}
	return mcp.WithString("caller", mcp.Required(), mcp.Description("Identity performing the operation"))
}

// caller resolves the acting identity for a request.
func (s *MCPServer) caller(tool string, args map[string]interface{}) (escrow.Identity, *ToolError) {
	if !s.identity.IsZero() {
		return s.identity, nil
	}
	raw := toString(args["caller"])
	if raw == "" {
		return "", NewMissingFieldError(tool, "caller")
	}
	return escrow.Identity(raw), nil
}

func taskIDArg(tool string, args map[string]interface{}) (escrow.TaskID, *ToolError) {
	raw, ok := args["task_id"]
	if !ok || raw == nil {
		return 0, NewMissingFieldError(tool, "task_id")
	}
	id, ok := toInt64(raw)
	if !ok || id <= 0 {
		return 0, NewInvalidValueError(tool, "task_id", raw, "a positive integer")
	}
	return escrow.TaskID(id), nil
}

func (s *MCPServer) registerActionTool(name, description string, run actionFunc) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		s.callerOption(),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of the task")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		caller, terr := s.caller(name, args)
		if terr != nil {
			return errorResult(terr), nil
		}
		id, terr := taskIDArg(name, args)
		if terr != nil {
			return errorResult(terr), nil
		}
		result, err := run(ctx, caller, id)
		if err != nil {
			return errorResult(NewLedgerError(name, err)), nil
		}
		return jsonResult(result), nil
	})
}

// registerAddTaskTool creates a tool that funds a new task
func (s *MCPServer) registerAddTaskTool() {
	tool := mcp.NewTool("add_task",
		mcp.WithDescription("Create a task and move its deposit into escrow"),
		s.callerOption(),
		mcp.WithString("name", mcp.Description("Short description of the work")),
		mcp.WithNumber("value", mcp.Required(), mcp.Description("Deposit in base units, must be positive")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		caller, terr := s.caller("add_task", args)
		if terr != nil {
			return errorResult(terr), nil
		}
		raw, ok := args["value"]
		if !ok || raw == nil {
			return errorResult(NewMissingFieldError("add_task", "value")), nil
		}
		value, ok := toInt64(raw)
		if !ok {
			return errorResult(NewInvalidValueError("add_task", "value", raw, "an integer")), nil
		}
		task, err := s.ledger.AddTask(ctx, caller, toString(args["name"]), escrow.Amount(value))
		if err != nil {
			return errorResult(NewLedgerError("add_task", err)), nil
		}
		return jsonResult(task), nil
	})
}

// registerGetTaskTool creates a tool for getting a specific task
func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get details of a live task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of the task")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, terr := taskIDArg("get_task", request.GetArguments())
		if terr != nil {
			return errorResult(terr), nil
		}
		task, err := s.ledger.GetTask(ctx, id)
		if err != nil {
			return errorResult(NewLedgerError("get_task", err)), nil
		}
		return jsonResult(task), nil
	})
}

func (s *MCPServer) registerAgentToTaskTool() {
	tool := mcp.NewTool("agent_to_task",
		mcp.WithDescription("Get the agent assigned to a task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of the task")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, terr := taskIDArg("agent_to_task", request.GetArguments())
		if terr != nil {
			return errorResult(terr), nil
		}
		agent, err := s.ledger.AgentToTask(ctx, id)
		if err != nil {
			return errorResult(NewLedgerError("agent_to_task", err)), nil
		}
		return jsonResult(map[string]interface{}{"task_id": id, "agent": agent}), nil
	})
}

// registerListTasksTool creates a tool for listing live tasks
func (s *MCPServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List live tasks with optional filtering"),
		mcp.WithString("owner", mcp.Description("Filter by owner identity")),
		mcp.WithString("agent", mcp.Description("Filter by agent identity")),
		mcp.WithString("status", mcp.Description("Filter by status (Uninitiated, Accepted, Submitted, Disputed)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return")),
		mcp.WithNumber("offset", mcp.Description("Number of tasks to skip")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		filter := escrow.TaskFilter{
			Owner: escrow.Identity(toString(args["owner"])),
			Agent: escrow.Identity(toString(args["agent"])),
		}
		if n, ok := toInt64(args["limit"]); ok {
			filter.Limit = int(n)
		}
		if n, ok := toInt64(args["offset"]); ok {
			filter.Offset = int(n)
		}
		if raw := toString(args["status"]); raw != "" {
			st, err := escrow.ParseTaskState(raw)
			if err != nil {
				return errorResult(NewInvalidValueError("list_tasks", "status", raw, "a live task status")), nil
			}
			filter.Status = &st
		}

		tasks, err := s.ledger.ListTasks(ctx, filter)
		if err != nil {
			return errorResult(NewLedgerError("list_tasks", err)), nil
		}
		if tasks == nil {
			tasks = []escrow.Task{}
		}
		return jsonResult(map[string]interface{}{
			"tasks":       tasks,
			"total_count": len(tasks),
		}), nil
	})
}

func (s *MCPServer) registerGetSettlementTool() {
	tool := mcp.NewTool("get_settlement",
		mcp.WithDescription("Get the archived outcome of a resolved or withdrawn task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of the task")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, terr := taskIDArg("get_settlement", request.GetArguments())
		if terr != nil {
			return errorResult(terr), nil
		}
		st, err := s.ledger.Settlement(ctx, id)
		if err != nil {
			return errorResult(NewLedgerError("get_settlement", err)), nil
		}
		return jsonResult(st), nil
	})
}

func (s *MCPServer) registerGetBalanceTool() {
	tool := mcp.NewTool("get_balance",
		mcp.WithDescription("Get the substrate balance of an account"),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account identity")),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account, err := request.RequireString("account")
		if err != nil || strings.TrimSpace(account) == "" {
			return errorResult(NewMissingFieldError("get_balance", "account")), nil
		}
		id := escrow.Identity(account).Normalize()
		balance, err := s.ledger.Balance(ctx, id)
		if err != nil {
			return errorResult(NewLedgerError("get_balance", err)), nil
		}
		return jsonResult(map[string]interface{}{"account": id, "balance": balance}), nil
	})
}

func (s *MCPServer) registerAuditTool() {
	tool := mcp.NewTool("audit",
		mcp.WithDescription("Compare the escrow account balance with the sum of live deposits"),
	)

	s.addTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := s.ledger.Audit(ctx)
		if err != nil && escrow.Code(err) != escrow.CodeImbalance {
			return errorResult(NewLedgerError("audit", err)), nil
		}
		return jsonResult(report), nil
	})
}
