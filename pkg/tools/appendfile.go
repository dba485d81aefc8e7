package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// AppendFileTool appends content to a file, creating it (and any
// missing parent directories) if it does not already exist.
type AppendFileTool struct {
	workspace           string
	restrictToWorkspace bool
}

func NewAppendFileTool(workspace string) *AppendFileTool {
	return &AppendFileTool{workspace: workspace}
}

func (t *AppendFileTool) SetRestrictToWorkspace(v bool) { t.restrictToWorkspace = v }

func (t *AppendFileTool) Name() string { return "append_file" }

func (t *AppendFileTool) Description() string {
	return "Append content to the end of a file, creating it if needed"
}

func (t *AppendFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to append to",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to append",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *AppendFileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, ok := args["path"].(string)
	if !ok {
		return ErrorResult("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content is required")
	}

	resolvedPath, err := validatePathRestricted(path, t.workspace, t.restrictToWorkspace)
	if err != nil {
		return ErrorResult(err.Error())
	}

	dir := filepath.Dir(resolvedPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create directory: %v", err))
	}

	f, err := os.OpenFile(resolvedPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to open file: %v", err))
	}
	defer f.Close()

	n, err := f.WriteString(content)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to append to file: %v", err))
	}

	return SilentResult(fmt.Sprintf("appended %s to %s", humanize.Bytes(uint64(n)), path))
}
