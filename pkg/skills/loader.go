// Package skills loads reusable task playbooks ("skills") from three
// layered directories so the agent's system prompt can list what is
// available without paying the cost of inlining every skill's full
// content on every turn.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"localagent/pkg/logger"
)

// Skill is a single loaded skill: its name (directory name) and the
// one-line description parsed from its SKILL.md header, if present.
type Skill struct {
	Name        string
	Description string
	Path        string
}

// SkillsLoader discovers skills under three roots, workspace-local
// skills taking precedence over global, global over builtin, when
// names collide.
type SkillsLoader struct {
	workspaceDir string
	globalDir    string
	builtinDir   string
}

func NewSkillsLoader(workspace, globalDir, builtinDir string) *SkillsLoader {
	return &SkillsLoader{
		workspaceDir: filepath.Join(workspace, "skills"),
		globalDir:    globalDir,
		builtinDir:   builtinDir,
	}
}

// ListSkills returns the distinct set of skills visible across all
// three roots, sorted by name.
func (l *SkillsLoader) ListSkills() []Skill {
	seen := make(map[string]Skill)

	for _, dir := range []string{l.builtinDir, l.globalDir, l.workspaceDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			skillPath := filepath.Join(dir, entry.Name(), "SKILL.md")
			data, err := os.ReadFile(skillPath)
			if err != nil {
				continue
			}
			seen[entry.Name()] = Skill{
				Name:        entry.Name(),
				Description: parseDescription(string(data)),
				Path:        skillPath,
			}
		}
	}

	skills := make([]Skill, 0, len(seen))
	for _, s := range seen {
		skills = append(skills, s)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// parseDescription extracts the first non-empty, non-heading line of a
// SKILL.md file as its one-line summary.
func parseDescription(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}

// BuildSkillsSummary renders a short bullet list of available skills
// for inclusion in the system prompt. The full content of a given
// skill is only loaded on demand via LoadSkillsForContext or read_file.
func (l *SkillsLoader) BuildSkillsSummary() string {
	all := l.ListSkills()
	if len(all) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, s := range all {
		if s.Description != "" {
			fmt.Fprintf(&sb, "- `%s` - %s\n", s.Name, s.Description)
		} else {
			fmt.Fprintf(&sb, "- `%s`\n", s.Name)
		}
	}
	return sb.String()
}

// LoadSkillsForContext returns the full SKILL.md content for the named
// skills, concatenated with headers. Unknown names are skipped.
func (l *SkillsLoader) LoadSkillsForContext(names []string) string {
	all := l.ListSkills()
	byName := make(map[string]Skill, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}

	var sb strings.Builder
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			continue
		}
		data, err := os.ReadFile(s.Path)
		if err != nil {
			logger.Warn("skills: failed to read %s: %v", s.Path, err)
			continue
		}
		fmt.Fprintf(&sb, "## Skill: %s\n\n%s\n\n", name, string(data))
	}
	return sb.String()
}
