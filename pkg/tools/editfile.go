package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EditFileTool performs a single unambiguous find-and-replace within a
// file. It refuses when old_text is absent or appears more than once,
// so the caller cannot silently edit the wrong occurrence.
type EditFileTool struct {
	workspace            string
	restrictToWorkspace  bool
	normalizeLineEndings bool
}

func NewEditFileTool(workspace string) *EditFileTool {
	return &EditFileTool{workspace: workspace}
}

// SetRestrictToWorkspace pins path resolution to the workspace directory.
func (t *EditFileTool) SetRestrictToWorkspace(v bool) { t.restrictToWorkspace = v }

// SetNormalizeLineEndings makes old_text matching CRLF/LF-insensitive.
func (t *EditFileTool) SetNormalizeLineEndings(v bool) { t.normalizeLineEndings = v }

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace a single exact occurrence of old_text with new_text in a file. Fails if old_text is missing or not unique."
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "Exact text to find; must occur exactly once in the file",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, ok := args["path"].(string)
	if !ok {
		return ErrorResult("path is required")
	}
	oldText, ok := args["old_text"].(string)
	if !ok {
		return ErrorResult("old_text is required")
	}
	newText, _ := args["new_text"].(string)

	resolvedPath, err := validatePathRestricted(path, t.workspace, t.restrictToWorkspace)
	if err != nil {
		return ErrorResult(err.Error())
	}

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	content := string(data)

	searchContent := content
	searchOld := oldText
	if t.normalizeLineEndings {
		searchContent = strings.ReplaceAll(searchContent, "\r\n", "\n")
		searchOld = strings.ReplaceAll(searchOld, "\r\n", "\n")
	}

	count := strings.Count(searchContent, searchOld)
	if count == 0 {
		return ErrorResult("old_text not found in file")
	}
	if count > 1 {
		return ErrorResult(fmt.Sprintf("old_text is not unique: found %d occurrences", count))
	}

	var updated string
	if t.normalizeLineEndings {
		idx := strings.Index(searchContent, searchOld)
		normalizedResult := searchContent[:idx] + newText + searchContent[idx+len(searchOld):]
		if strings.Contains(content, "\r\n") {
			updated = strings.ReplaceAll(normalizedResult, "\n", "\r\n")
		} else {
			updated = normalizedResult
		}
	} else {
		idx := strings.Index(content, oldText)
		updated = content[:idx] + newText + content[idx+len(oldText):]
	}

	if err := os.WriteFile(resolvedPath, []byte(updated), 0644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	return SilentResult(fmt.Sprintf("edited %s (%d byte%s written)", path, len(updated), plural(len(updated))))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
