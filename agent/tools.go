package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kstost/aiexecode/llm"
)

const (
	maxWebFetchBytes   = 512 * 1024
	webFetchTimeout    = 30 * time.Second
	maxGrepResultChars = 20000
)

// editTarget extracts the file path from edit-class arguments, used for
// snapshot capture before approval.
func editTarget(raw json.RawMessage) (string, bool) {
	args, err := ParseToolArguments(raw)
	if err != nil {
		return "", false
	}
	return GetStringArg(args, "file_path")
}

// validateEdit applies old/new replacement rules to content and returns
// the edited content. The same function backs both the pre-validation
// stage (against the session snapshot) and the executor (against the
// on-disk content), so the two can never disagree about what counts as a
// valid edit.
func validateEdit(content, oldString, newString string, replaceAll bool) (string, error) {
	if oldString == "" {
		return "", fmt.Errorf("old_string must not be empty")
	}
	if oldString == newString {
		return "", fmt.Errorf("old_string and new_string are identical")
	}
	count := strings.Count(content, oldString)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in file")
	}
	if count > 1 && !replaceAll {
		return "", fmt.Errorf("old_string appears %d times; provide more context or set replace_all", count)
	}
	if replaceAll {
		return strings.ReplaceAll(content, oldString, newString), nil
	}
	return strings.Replace(content, oldString, newString, 1), nil
}

// numberLines renders content with 1-based line numbers, honoring an
// optional offset and limit.
func numberLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")

	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return ""
	}

	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String()
}

// RegisterCoreTools installs the built-in tool set on the registry.
func RegisterCoreTools(reg *Registry, env ExecutionEnvironment, guard *IntegrityGuard, defaultTimeoutMs int) {
	reg.Register(shellTool(env, defaultTimeoutMs))
	reg.Register(readFileTool(env, guard))
	reg.Register(writeFileTool(env, guard))
	reg.Register(editFileTool(env, guard))
	reg.Register(listDirectoryTool(env))
	reg.Register(grepTool(env))
	reg.Register(globTool(env))
	reg.Register(webFetchTool())
}

func shellTool(env ExecutionEnvironment, defaultTimeoutMs int) Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "shell",
			Description: "Run a shell command in the working directory and return stdout, stderr, and the exit code.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command":     map[string]interface{}{"type": "string", "description": "The command to run"},
					"timeout_ms":  map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds"},
					"working_dir": map[string]interface{}{"type": "string", "description": "Directory to run in"},
				},
				"required": []string{"command"},
			},
		},
		Class: ClassExec,
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			command, ok := GetStringArg(args, "command")
			if !ok || command == "" {
				return Failure("command is required")
			}
			timeoutMs, _ := GetIntArg(args, "timeout_ms")
			if timeoutMs <= 0 {
				timeoutMs = defaultTimeoutMs
			}
			workingDir, _ := GetStringArg(args, "working_dir")

			result, err := env.ExecCommand(ctx, command, timeoutMs, workingDir, nil)
			if err != nil {
				return Failure(err.Error())
			}
			return Success(map[string]interface{}{
				"stdout":      result.Stdout,
				"stderr":      result.Stderr,
				"exit_code":   result.ExitCode,
				"timed_out":   result.TimedOut,
				"duration_ms": result.DurationMs,
			})
		},
	}
}

func readFileTool(env ExecutionEnvironment, guard *IntegrityGuard) Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "read_file",
			Description: "Read a file and return its content with line numbers. Reading a file is required before editing it.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path": map[string]interface{}{"type": "string", "description": "Path to the file"},
					"offset":    map[string]interface{}{"type": "integer", "description": "1-based first line to read"},
					"limit":     map[string]interface{}{"type": "integer", "description": "Maximum number of lines"},
				},
				"required": []string{"file_path"},
			},
		},
		Class: ClassRead,
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			path, ok := GetStringArg(args, "file_path")
			if !ok || path == "" {
				return Failure("file_path is required")
			}
			offset, _ := GetIntArg(args, "offset")
			limit, _ := GetIntArg(args, "limit")

			content, err := env.ReadFile(path)
			if err != nil {
				return Failure(err.Error())
			}
			guard.TrackRead(path, content)
			guard.SaveSnapshot(path, content)
			return Success(map[string]interface{}{
				"content": numberLines(content, offset, limit),
			})
		},
	}
}

func writeFileTool(env ExecutionEnvironment, guard *IntegrityGuard) Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path": map[string]interface{}{"type": "string", "description": "Path to the file"},
					"content":   map[string]interface{}{"type": "string", "description": "Full file content"},
				},
				"required": []string{"file_path", "content"},
			},
		},
		Class: ClassMutating,
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			path, ok := GetStringArg(args, "file_path")
			if !ok || path == "" {
				return Failure("file_path is required")
			}
			content, ok := GetStringArg(args, "content")
			if !ok {
				return Failure("content is required")
			}

			if err := env.WriteFile(path, content); err != nil {
				return Failure(err.Error())
			}
			// The written content is now the known-good state.
			guard.TrackRead(path, content)
			guard.SaveSnapshot(path, content)
			return Success(map[string]interface{}{
				"file_path":     path,
				"bytes_written": len(content),
			})
		},
	}
}

func editFileTool(env ExecutionEnvironment, guard *IntegrityGuard) Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "edit_file",
			Description: "Replace an exact string in a file. old_string must match exactly once unless replace_all is set.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path":   map[string]interface{}{"type": "string", "description": "Path to the file"},
					"old_string":  map[string]interface{}{"type": "string", "description": "Exact text to replace"},
					"new_string":  map[string]interface{}{"type": "string", "description": "Replacement text"},
					"replace_all": map[string]interface{}{"type": "boolean", "description": "Replace every occurrence"},
				},
				"required": []string{"file_path", "old_string", "new_string"},
			},
		},
		Class:  ClassEdit,
		Target: editTarget,
		PreValidate: func(raw json.RawMessage, guard *IntegrityGuard) (Outcome, bool) {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error()), true
			}
			path, ok := GetStringArg(args, "file_path")
			if !ok || path == "" {
				return Failure("file_path is required"), true
			}
			if !guard.Tracked(path) {
				return Failure((&IntegrityError{Path: path, Reason: ReasonNotRead}).Error()), true
			}
			oldString, _ := GetStringArg(args, "old_string")
			newString, _ := GetStringArg(args, "new_string")
			replaceAll, _ := GetBoolArg(args, "replace_all")
			if snap, ok := guard.GetSnapshot(path); ok {
				if _, err := validateEdit(snap.Content, oldString, newString, replaceAll); err != nil {
					return Failure(err.Error()), true
				}
			}
			return Outcome{}, false
		},
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			path, _ := GetStringArg(args, "file_path")
			oldString, _ := GetStringArg(args, "old_string")
			newString, _ := GetStringArg(args, "new_string")
			replaceAll, _ := GetBoolArg(args, "replace_all")

			if err := guard.AssertIntegrity(path); err != nil {
				return Failure(err.Error())
			}
			content, err := env.ReadFile(path)
			if err != nil {
				return Failure(err.Error())
			}
			edited, err := validateEdit(content, oldString, newString, replaceAll)
			if err != nil {
				return Failure(err.Error())
			}
			if err := env.WriteFile(path, edited); err != nil {
				return Failure(err.Error())
			}
			guard.TrackRead(path, edited)
			guard.SaveSnapshot(path, edited)
			return Success(map[string]interface{}{
				"file_path": path,
			})
		},
	}
}

func listDirectoryTool(env ExecutionEnvironment) Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "list_directory",
			Description: "List the entries of a directory.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{"type": "string", "description": "Directory path, defaults to the working directory"},
				},
			},
		},
		Class: ClassRead,
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			path, _ := GetStringArg(args, "path")
			if path == "" {
				path = "."
			}
			entries, err := env.ListDirectory(path)
			if err != nil {
				return Failure(err.Error())
			}

			var sb strings.Builder
			for _, entry := range entries {
				if entry.IsDir {
					fmt.Fprintf(&sb, "%s/\n", entry.Name)
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", entry.Name, entry.Size)
				}
			}
			return Success(map[string]interface{}{
				"entries": sb.String(),
				"count":   len(entries),
			})
		},
	}
}

func grepTool(env ExecutionEnvironment) Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "grep",
			Description: "Search file contents for a regular expression.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern":          map[string]interface{}{"type": "string", "description": "Regular expression to search for"},
					"path":             map[string]interface{}{"type": "string", "description": "Directory or file to search"},
					"glob":             map[string]interface{}{"type": "string", "description": "Glob filter, e.g. *.go"},
					"case_insensitive": map[string]interface{}{"type": "boolean"},
					"max_results":      map[string]interface{}{"type": "integer"},
				},
				"required": []string{"pattern"},
			},
		},
		Class: ClassRead,
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			pattern, ok := GetStringArg(args, "pattern")
			if !ok || pattern == "" {
				return Failure("pattern is required")
			}
			path, _ := GetStringArg(args, "path")
			glob, _ := GetStringArg(args, "glob")
			caseInsensitive, _ := GetBoolArg(args, "case_insensitive")
			maxResults, _ := GetIntArg(args, "max_results")

			out, err := env.Grep(ctx, pattern, path, GrepOptions{
				GlobFilter:      glob,
				CaseInsensitive: caseInsensitive,
				MaxResults:      maxResults,
			})
			if err != nil {
				return Failure(err.Error())
			}
			return Success(map[string]interface{}{
				"matches": TruncateMiddle(out, maxGrepResultChars),
			})
		},
	}
}

func globTool(env ExecutionEnvironment) Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "glob",
			Description: "Find files matching a glob pattern.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{"type": "string", "description": "Glob pattern, e.g. **/*.go"},
					"path":    map[string]interface{}{"type": "string", "description": "Directory to search in"},
				},
				"required": []string{"pattern"},
			},
		},
		Class: ClassRead,
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			pattern, ok := GetStringArg(args, "pattern")
			if !ok || pattern == "" {
				return Failure("pattern is required")
			}
			path, _ := GetStringArg(args, "path")

			matches, err := env.Glob(pattern, path)
			if err != nil {
				return Failure(err.Error())
			}
			return Success(map[string]interface{}{
				"matches": strings.Join(matches, "\n"),
				"count":   len(matches),
			})
		},
	}
}

func webFetchTool() Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "web_fetch",
			Description: "Fetch a URL over HTTP(S) and return the response body as text.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{"type": "string", "description": "The URL to fetch"},
				},
				"required": []string{"url"},
			},
		},
		Class: ClassRead,
		Handler: func(ctx context.Context, raw json.RawMessage, sessionID string) Outcome {
			args, err := ParseToolArguments(raw)
			if err != nil {
				return Failure(err.Error())
			}
			url, ok := GetStringArg(args, "url")
			if !ok || url == "" {
				return Failure("url is required")
			}
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return Failure("url must be http or https")
			}

			reqCtx, cancel := context.WithTimeout(ctx, webFetchTimeout)
			defer cancel()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
			if err != nil {
				return Failure(err.Error())
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return Failure(err.Error())
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebFetchBytes))
			if err != nil {
				return Failure(err.Error())
			}
			return Success(map[string]interface{}{
				"status_code": resp.StatusCode,
				"body":        string(body),
			})
		},
	}
}
