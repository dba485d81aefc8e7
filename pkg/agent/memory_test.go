package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMemoryStore_GetMemoryContext_Empty(t *testing.T) {
	store := NewMemoryStore(t.TempDir())
	if got := store.GetMemoryContext(); got != "" {
		t.Errorf("expected empty context with no files, got %q", got)
	}
}

func TestMemoryStore_GetMemoryContext_LongTermOnly(t *testing.T) {
	workspace := t.TempDir()
	store := NewMemoryStore(workspace)

	if err := os.WriteFile(filepath.Join(workspace, "memory", "MEMORY.md"), []byte("long term notes"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got := store.GetMemoryContext()
	if got != "long term notes" {
		t.Errorf("expected only long-term content, got %q", got)
	}
}

func TestMemoryStore_GetMemoryContext_WithToday(t *testing.T) {
	workspace := t.TempDir()
	store := NewMemoryStore(workspace)

	if err := os.WriteFile(store.GetTodayFile(), []byte("today's events"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got := store.GetMemoryContext()
	if !strings.Contains(got, "today's events") {
		t.Errorf("expected today's note included, got %q", got)
	}
	if !strings.Contains(got, time.Now().Format("2006-01-02")) {
		t.Errorf("expected today's date heading, got %q", got)
	}
}

func TestMemoryStore_GetTodayFile(t *testing.T) {
	workspace := t.TempDir()
	store := NewMemoryStore(workspace)

	expected := filepath.Join(workspace, "memory", time.Now().Format("2006-01-02")+".md")
	if got := store.GetTodayFile(); got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}
