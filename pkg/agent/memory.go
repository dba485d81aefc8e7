package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"localagent/pkg/logger"
)

// MemoryStore manages the two persistent-memory surfaces consulted by
// ContextBuilder: a long-term note (MEMORY.md) and daily notes
// (memory/YYYY-MM-DD.md), both under the agent's workspace. Memory
// flush turns (see pkg/agent/loop.go's memoryFlush) append to the
// daily note; ContextBuilder only ever reads, never rewrites, what's
// already on disk.
type MemoryStore struct {
	workspace string
}

func NewMemoryStore(workspace string) *MemoryStore {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("memory: failed to create memory dir: %v", err)
	}
	return &MemoryStore{workspace: workspace}
}

func (m *MemoryStore) memoryDir() string {
	return filepath.Join(m.workspace, "memory")
}

// GetTodayFile returns the path to today's daily note. It creates
// neither the file nor the memory directory (the memory flush turn
// writes the file via append_file).
func (m *MemoryStore) GetTodayFile() string {
	filename := time.Now().Format("2006-01-02") + ".md"
	return filepath.Join(m.memoryDir(), filename)
}

// GetMemoryContext returns the long-term memory note plus today's
// daily note (if present), concatenated for inclusion in the system
// prompt. Missing files are simply omitted.
func (m *MemoryStore) GetMemoryContext() string {
	var result string

	longTerm := filepath.Join(m.memoryDir(), "MEMORY.md")
	if data, err := os.ReadFile(longTerm); err == nil && len(data) > 0 {
		result += string(data)
	}

	today := m.GetTodayFile()
	if data, err := os.ReadFile(today); err == nil && len(data) > 0 {
		if result != "" {
			result += "\n\n"
		}
		result += fmt.Sprintf("## Today (%s)\n\n%s", time.Now().Format("2006-01-02"), string(data))
	}

	return result
}
