package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

const basePrompt = `You are an autonomous coding agent. You are given a mission and a set of
tools; use the tools to inspect the project, make changes, and verify them.

Rules:
- Read a file before editing it.
- Prefer small, verifiable steps over large speculative changes.
- When the mission is complete, reply with a plain message summarizing what
  was done instead of calling more tools.
- Never ask the user questions; decide and act.`

// BuildSystemEntry renders the full system entry text for the main
// conversation: base rules, environment context, the current pending
// tasks, and any project instruction documents. Rebuilt at the start of
// every iteration so environment changes and task progress stay current.
func BuildSystemEntry(env ExecutionEnvironment, model string, pendingTasks []string) string {
	sections := []string{basePrompt, buildEnvironmentContext(env, model)}
	if len(pendingTasks) > 0 {
		var sb strings.Builder
		sb.WriteString("<pending_tasks>\n")
		for _, task := range pendingTasks {
			fmt.Fprintf(&sb, "- %s\n", task)
		}
		sb.WriteString("</pending_tasks>")
		sections = append(sections, sb.String())
	}
	if docs := DiscoverProjectDocs(env.WorkingDirectory()); docs != "" {
		sections = append(sections, "<project_instructions>\n"+docs+"\n</project_instructions>")
	}
	return strings.Join(sections, "\n\n")
}

// buildEnvironmentContext generates the structured environment block.
func buildEnvironmentContext(env ExecutionEnvironment, model string) string {
	workingDir := env.WorkingDirectory()
	isGitRepo := isGitRepository(workingDir)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	if isGitRepo {
		if branch := getGitBranch(workingDir); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs walks from the git root (or working directory) down
// to the working directory collecting AGENTS.md instruction files, capped
// at 32KB total.
func DiscoverProjectDocs(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	var docs []string
	totalBytes := 0

	for _, dir := range collectPathHierarchy(root, workingDir) {
		path := filepath.Join(dir, "AGENTS.md")
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		remaining := maxProjectDocBytes - totalBytes
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}

		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}

		docs = append(docs, fmt.Sprintf("# AGENTS.md (from %s)\n\n%s", dir, text))
		totalBytes += len(text)
	}

	return strings.Join(docs, "\n\n---\n\n")
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)

	if root == target {
		return []string{root}
	}

	dirs := []string{root}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return dirs
	}

	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." || part == ".." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

func gitRoot(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func getGitBranch(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
