package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/loomwork/loom/pkg/config"
)

// fsBuiltin is the shared shape behind the small, single-purpose filesystem
// built-ins (list_files, list_directories, file_exists, get_file_info,
// create_directory, delete_file): each resolves its path argument through a
// PathLocker, as validate_file_path does, then performs one os/path/filepath
// call.
type fsBuiltin struct {
	name        string
	description string
	params      []ToolParameter
	locker      *PathLocker
	run         func(locker *PathLocker, args map[string]interface{}) (ToolResult, error)
}

func (t *fsBuiltin) GetInfo() ToolInfo {
	return ToolInfo{Name: t.name, Description: t.description, Parameters: t.params, ServerURL: "local"}
}
func (t *fsBuiltin) GetName() string        { return t.name }
func (t *fsBuiltin) GetDescription() string { return t.description }
func (t *fsBuiltin) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	return t.run(t.locker, args)
}

func pathParam(description string) ToolParameter {
	return ToolParameter{Name: "path", Type: "string", Description: description, Required: true}
}

func fsErrorResult(name string, start time.Time, err error) ToolResult {
	return ToolResult{Success: false, Error: err.Error(), ToolName: name, ExecutionTime: time.Since(start)}
}

func NewListFilesTool(workingDirectory string) Tool {
	return &fsBuiltin{
		name:        "list_files",
		description: "List the files directly inside a directory (non-recursive).",
		params:      []ToolParameter{pathParam("Directory to list, relative to the working directory (use \".\" for the root)")},
		locker:      NewPathLocker(workingDirectory),
		run: func(locker *PathLocker, args map[string]interface{}) (ToolResult, error) {
			start := time.Now()
			path, _ := args["path"].(string)
			if path == "" {
				path = "."
			}
			abs, err := locker.Resolve(path, true)
			if err != nil {
				return fsErrorResult("list_files", start, err), nil
			}
			entries, err := os.ReadDir(abs)
			if err != nil {
				return fsErrorResult("list_files", start, err), nil
			}
			var files []string
			for _, e := range entries {
				if !e.IsDir() {
					files = append(files, e.Name())
				}
			}
			sort.Strings(files)
			return ToolResult{
				Success:       true,
				Content:       fmt.Sprintf("%d file(s) in %s", len(files), path),
				ToolName:      "list_files",
				ExecutionTime: time.Since(start),
				Metadata:      map[string]interface{}{"path": path, "files": files},
			}, nil
		},
	}
}

func NewListDirectoriesTool(workingDirectory string) Tool {
	return &fsBuiltin{
		name:        "list_directories",
		description: "List the subdirectories directly inside a directory (non-recursive).",
		params:      []ToolParameter{pathParam("Directory to list, relative to the working directory (use \".\" for the root)")},
		locker:      NewPathLocker(workingDirectory),
		run: func(locker *PathLocker, args map[string]interface{}) (ToolResult, error) {
			start := time.Now()
			path, _ := args["path"].(string)
			if path == "" {
				path = "."
			}
			abs, err := locker.Resolve(path, true)
			if err != nil {
				return fsErrorResult("list_directories", start, err), nil
			}
			entries, err := os.ReadDir(abs)
			if err != nil {
				return fsErrorResult("list_directories", start, err), nil
			}
			var dirs []string
			for _, e := range entries {
				if e.IsDir() {
					dirs = append(dirs, e.Name())
				}
			}
			sort.Strings(dirs)
			return ToolResult{
				Success:       true,
				Content:       fmt.Sprintf("%d directory(ies) in %s", len(dirs), path),
				ToolName:      "list_directories",
				ExecutionTime: time.Since(start),
				Metadata:      map[string]interface{}{"path": path, "directories": dirs},
			}, nil
		},
	}
}

func NewFileExistsTool(workingDirectory string) Tool {
	return &fsBuiltin{
		name:        "file_exists",
		description: "Report whether a path exists, without erroring if it doesn't.",
		params:      []ToolParameter{pathParam("Path to check, relative to the working directory")},
		locker:      NewPathLocker(workingDirectory),
		run: func(locker *PathLocker, args map[string]interface{}) (ToolResult, error) {
			start := time.Now()
			path, _ := args["path"].(string)
			abs, err := locker.Resolve(path, false)
			if err != nil {
				return fsErrorResult("file_exists", start, err), nil
			}
			_, statErr := os.Stat(abs)
			exists := statErr == nil
			return ToolResult{
				Success:       true,
				Content:       fmt.Sprintf("%t", exists),
				ToolName:      "file_exists",
				ExecutionTime: time.Since(start),
				Metadata:      map[string]interface{}{"path": path, "exists": exists},
			}, nil
		},
	}
}

func NewGetFileInfoTool(workingDirectory string) Tool {
	return &fsBuiltin{
		name:        "get_file_info",
		description: "Return size, mode, and modification time for a path.",
		params:      []ToolParameter{pathParam("Path to inspect, relative to the working directory")},
		locker:      NewPathLocker(workingDirectory),
		run: func(locker *PathLocker, args map[string]interface{}) (ToolResult, error) {
			start := time.Now()
			path, _ := args["path"].(string)
			abs, err := locker.Resolve(path, true)
			if err != nil {
				return fsErrorResult("get_file_info", start, err), nil
			}
			info, err := os.Stat(abs)
			if err != nil {
				return fsErrorResult("get_file_info", start, err), nil
			}
			return ToolResult{
				Success:       true,
				Content:       fmt.Sprintf("%s: %d bytes, mode %s, modified %s", path, info.Size(), info.Mode(), info.ModTime().Format(time.RFC3339)),
				ToolName:      "get_file_info",
				ExecutionTime: time.Since(start),
				Metadata: map[string]interface{}{
					"path":          path,
					"size":          info.Size(),
					"mode":          info.Mode().String(),
					"is_directory":  info.IsDir(),
					"modified_time": info.ModTime().Format(time.RFC3339),
				},
			}, nil
		},
	}
}

func NewCreateDirectoryTool(workingDirectory string) Tool {
	return &fsBuiltin{
		name:        "create_directory",
		description: "Create a directory, including any missing parents.",
		params:      []ToolParameter{pathParam("Directory to create, relative to the working directory")},
		locker:      NewPathLocker(workingDirectory),
		run: func(locker *PathLocker, args map[string]interface{}) (ToolResult, error) {
			start := time.Now()
			path, _ := args["path"].(string)
			abs, err := locker.Resolve(path, false)
			if err != nil {
				return fsErrorResult("create_directory", start, err), nil
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fsErrorResult("create_directory", start, err), nil
			}
			return ToolResult{
				Success:       true,
				Content:       fmt.Sprintf("created directory %s", path),
				ToolName:      "create_directory",
				ExecutionTime: time.Since(start),
				Metadata:      map[string]interface{}{"path": path},
			}, nil
		},
	}
}

func NewDeleteFileTool(workingDirectory string) Tool {
	return &fsBuiltin{
		name:        "delete_file",
		description: "Delete a single file. Refuses to delete directories; use a shell command for recursive removal.",
		params:      []ToolParameter{pathParam("File to delete, relative to the working directory")},
		locker:      NewPathLocker(workingDirectory),
		run: func(locker *PathLocker, args map[string]interface{}) (ToolResult, error) {
			start := time.Now()
			path, _ := args["path"].(string)
			abs, err := locker.Resolve(path, true)
			if err != nil {
				return fsErrorResult("delete_file", start, err), nil
			}
			info, err := os.Stat(abs)
			if err != nil {
				return fsErrorResult("delete_file", start, err), nil
			}
			if info.IsDir() {
				err := fmt.Errorf("%s is a directory, not a file", path)
				return fsErrorResult("delete_file", start, err), nil
			}
			if err := os.Remove(abs); err != nil {
				return fsErrorResult("delete_file", start, err), nil
			}
			return ToolResult{
				Success:       true,
				Content:       fmt.Sprintf("deleted %s", path),
				ToolName:      "delete_file",
				ExecutionTime: time.Since(start),
				Metadata:      map[string]interface{}{"path": path},
			}, nil
		},
	}
}

// fsToolConstructor covers the six filesystem built-ins above, all of which
// share the (name string, toolConfig
// *config.ToolConfig) -> (Tool, error) shape NewLocalToolSourceWithConfig
// already dispatches the rest of the local tool set through.
func fsToolConstructor(kind string) func(name string, toolConfig *config.ToolConfig) (Tool, error) {
	ctor := map[string]func(string) Tool{
		"list_files":       NewListFilesTool,
		"list_directories": NewListDirectoriesTool,
		"file_exists":      NewFileExistsTool,
		"get_file_info":    NewGetFileInfoTool,
		"create_directory": NewCreateDirectoryTool,
		"delete_file":      NewDeleteFileTool,
	}[kind]
	return func(name string, toolConfig *config.ToolConfig) (Tool, error) {
		if toolConfig == nil {
			return nil, fmt.Errorf("tool config is required")
		}
		return ctor(toolConfig.WorkingDirectory), nil
	}
}
