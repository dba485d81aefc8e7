package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSkillsLoader_ListSkills_Basic(t *testing.T) {
	workspace := t.TempDir()
	global := t.TempDir()
	builtin := t.TempDir()

	writeSkill(t, builtin, "deploy", "# Deploy\nShips the current build.")
	writeSkill(t, global, "review", "# Review\n\nReviews a diff.")

	loader := NewSkillsLoader(workspace, global, builtin)
	skills := loader.ListSkills()

	if len(skills) != 2 {
		t.Fatalf("expected 2 skills, got %d: %+v", len(skills), skills)
	}
	if skills[0].Name != "deploy" || skills[1].Name != "review" {
		t.Errorf("expected sorted [deploy review], got [%s %s]", skills[0].Name, skills[1].Name)
	}
	if skills[0].Description != "Ships the current build." {
		t.Errorf("unexpected description: %q", skills[0].Description)
	}
}

func TestSkillsLoader_WorkspaceOverridesGlobalOverridesBuiltin(t *testing.T) {
	workspace := t.TempDir()
	global := t.TempDir()
	builtin := t.TempDir()

	writeSkill(t, builtin, "deploy", "# Deploy\nBuiltin version.")
	writeSkill(t, global, "deploy", "# Deploy\nGlobal version.")

	loader := NewSkillsLoader(workspace, global, builtin)
	skills := loader.ListSkills()
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
	if skills[0].Description != "Global version." {
		t.Errorf("expected global to override builtin, got %q", skills[0].Description)
	}

	// Workspace-local skills dir is workspace/skills, per NewSkillsLoader.
	writeSkill(t, filepath.Join(workspace, "skills"), "deploy", "# Deploy\nWorkspace version.")
	skills = loader.ListSkills()
	if skills[0].Description != "Workspace version." {
		t.Errorf("expected workspace to override global, got %q", skills[0].Description)
	}
}

func TestSkillsLoader_BuildSkillsSummary_Empty(t *testing.T) {
	loader := NewSkillsLoader(t.TempDir(), t.TempDir(), t.TempDir())
	if got := loader.BuildSkillsSummary(); got != "" {
		t.Errorf("expected empty summary with no skills, got %q", got)
	}
}

func TestSkillsLoader_BuildSkillsSummary_WithDescription(t *testing.T) {
	builtin := t.TempDir()
	writeSkill(t, builtin, "deploy", "# Deploy\nShips the current build.")

	loader := NewSkillsLoader(t.TempDir(), t.TempDir(), builtin)
	summary := loader.BuildSkillsSummary()
	if !strings.Contains(summary, "`deploy` - Ships the current build.") {
		t.Errorf("unexpected summary: %q", summary)
	}
}

func TestSkillsLoader_LoadSkillsForContext(t *testing.T) {
	builtin := t.TempDir()
	writeSkill(t, builtin, "deploy", "# Deploy\nShips the current build.")

	loader := NewSkillsLoader(t.TempDir(), t.TempDir(), builtin)

	got := loader.LoadSkillsForContext([]string{"deploy", "unknown"})
	if !strings.Contains(got, "## Skill: deploy") {
		t.Errorf("expected deploy skill header, got %q", got)
	}
	if strings.Contains(got, "unknown") {
		t.Errorf("expected unknown skill to be skipped, got %q", got)
	}
}

func TestParseDescription_SkipsHeadingsAndBlankLines(t *testing.T) {
	content := "# Title\n\n\nActual description here.\nMore text."
	if got := parseDescription(content); got != "Actual description here." {
		t.Errorf("expected 'Actual description here.', got %q", got)
	}
}
