// Package mcp exposes queue management as MCP tools so an agent can curate
// its own overnight backlog.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/nightshift/internal/db"
	"github.com/ldi/nightshift/internal/resolver"
	"github.com/ldi/nightshift/pkg/models"
)

// NewServer creates the MCP server with the queue-management toolset.
func NewServer(database *db.DB) *server.MCPServer {
	s := server.NewMCPServer("Nightshift", "0.1.0")

	s.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Add a task to the queue."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("requirements", mcp.Description("What the task must accomplish"), mcp.Required()),
		mcp.WithString("type", mcp.Description("Task type (feature|bugfix|refactor|test|docs)")),
		mcp.WithNumber("priority", mcp.Description("Priority (higher runs earlier among ready tasks)")),
		mcp.WithNumber("estimated_duration", mcp.Description("Estimated duration in minutes")),
		mcp.WithString("dependencies", mcp.Description("Comma-separated task ids this task depends on")),
	), addTaskHandler(database))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List all tasks in the queue."),
	), listTasksHandler(database))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task by id."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), getTaskHandler(database))

	s.AddTool(mcp.NewTool("set_task_enabled",
		mcp.WithDescription("Enable or disable a task. Disabled tasks are excluded from the execution order."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithBoolean("enabled", mcp.Description("Whether the task should run"), mcp.Required()),
	), setTaskEnabledHandler(database))

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task from the queue."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), deleteTaskHandler(database))

	s.AddTool(mcp.NewTool("queue_status",
		mcp.WithDescription("Show the execution order the next run would use, with dependency warnings."),
	), queueStatusHandler(database))

	s.AddTool(mcp.NewTool("session_outcomes",
		mcp.WithDescription("List task outcomes recorded for a session."),
		mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
	), sessionOutcomesHandler(database))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func addTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t := &models.Task{
			Title:             mcp.ParseString(request, "title", ""),
			Requirements:      mcp.ParseString(request, "requirements", ""),
			Type:              models.TaskType(mcp.ParseString(request, "type", "")),
			Priority:          mcp.ParseInt(request, "priority", 0),
			EstimatedDuration: mcp.ParseInt(request, "estimated_duration", 0),
			Dependencies:      splitIDs(mcp.ParseString(request, "dependencies", "")),
			Enabled:           true,
		}
		if t.Title == "" || t.Requirements == "" {
			return mcp.NewToolResultError("title and requirements are required"), nil
		}

		if err := database.CreateTask(ctx, t); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' added with id %s", t.Title, t.ID)), nil
	}
}

func listTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := database.ListTasks(ctx, false)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := json.Marshal(map[string]any{"tasks": tasks})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func getTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		t, err := database.GetTask(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", id)), nil
		}
		data, err := json.Marshal(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func setTaskEnabledHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		enabled := mcp.ParseBoolean(request, "enabled", true)
		if err := database.SetTaskEnabled(ctx, id, enabled); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		state := "enabled"
		if !enabled {
			state = "disabled"
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' %s", id, state)), nil
	}
}

func deleteTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		if err := database.DeleteTask(ctx, id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("Task deleted successfully"), nil
	}
}

func queueStatusHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := database.ListTasks(ctx, false)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		list := make([]models.Task, len(tasks))
		for i, t := range tasks {
			list[i] = *t
		}
		order, warnings, err := resolver.Resolve(list)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ids := make([]string, len(order))
		for i, t := range order {
			ids[i] = t.ID
		}
		data, err := json.Marshal(map[string]any{
			"order":    ids,
			"warnings": warnings,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func sessionOutcomesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "")
		outcomes, err := database.ListOutcomes(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := json.Marshal(map[string]any{"outcomes": outcomes})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}
