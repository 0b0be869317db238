package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tmnabeel30/CodeFlow-CLI/src"
)

const serverVersion = "1.0.0"

func main() {
	root := os.Getenv("CODEFLOW_ROOT")
	if root == "" {
		root, _ = os.Getwd()
	}

	logger, err := src.NewStderrLogger(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ws, err := src.NewWorkspace(root, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workspace: %v\n", err)
		os.Exit(1)
	}
	if _, err := ws.Scan(); err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}

	s := server.NewMCPServer("codeflow-workspace", serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	registerTools(s, ws)

	if err := server.ServeStdio(s); err != nil {
		if strings.Contains(err.Error(), "broken pipe") {
			return
		}
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func registerTools(s *server.MCPServer, ws *src.Workspace) {
	searchTool := mcp.NewTool("search_codebase",
		mcp.WithDescription("Search workspace files for a string and return matching lines"),
		mcp.WithString("query", mcp.Required(), mcp.Description("text to search for")),
	)
	s.AddTool(searchTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		hits := ws.Search(query)
		if len(hits) == 0 {
			return mcp.NewToolResultText("no matches"), nil
		}
		var b strings.Builder
		for _, hit := range hits {
			fmt.Fprintf(&b, "%s:%d: %s\n", hit.Path, hit.Line, hit.Text)
		}
		return mcp.NewToolResultText(b.String()), nil
	})

	readTool := mcp.NewTool("read_file",
		mcp.WithDescription("Read one workspace file by relative path"),
		mcp.WithString("path", mcp.Required(), mcp.Description("path relative to the workspace root")),
	)
	s.AddTool(readTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := ws.ReadFile(path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(content), nil
	})

	writeTool := mcp.NewTool("write_file",
		mcp.WithDescription("Write a workspace file, backing up any previous version"),
		mcp.WithString("path", mcp.Required(), mcp.Description("path relative to the workspace root")),
		mcp.WithString("content", mcp.Required(), mcp.Description("full new file content")),
	)
	s.AddTool(writeTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var backup string
		err = ws.WithCommitLock(ctx, func() error {
			var writeErr error
			backup, writeErr = ws.BackupAndWrite(path, content)
			return writeErr
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if backup != "" {
			return mcp.NewToolResultText(fmt.Sprintf("wrote %s (backup: %s)", path, backup)), nil
		}
		return mcp.NewToolResultText("wrote " + path), nil
	})

	listTool := mcp.NewTool("list_files",
		mcp.WithDescription("List workspace files with sizes"),
	)
	s.AddTool(listTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		files := ws.Files()
		if len(files) == 0 {
			return mcp.NewToolResultText("no files"), nil
		}
		var b strings.Builder
		for _, f := range files {
			fmt.Fprintf(&b, "%s (%s)\n", f.Rel, src.HumanSize(f.Size))
		}
		return mcp.NewToolResultText(b.String()), nil
	})

	structureTool := mcp.NewTool("project_structure",
		mcp.WithDescription("Summarize the project type and key files"),
	)
	s.AddTool(structureTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := mcp.NewToolResultJSON(ws.Structure())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return res, nil
	})
}
