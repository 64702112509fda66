package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loomwork/loom/pkg/config"
)

// PathLocker is the working-directory confinement check shared by
// validate_file_path and the fs_builtin.go tools, modelled on
// ReadFileTool.validatePath and FileWriterTool.validatePath. Those tools,
// and search_replace, keep their own validatePath and do not use it.
type PathLocker struct {
	WorkingDirectory string
}

// NewPathLocker scopes path resolution to dir, defaulting to the process's
// working directory when dir is empty.
func NewPathLocker(dir string) *PathLocker {
	if dir == "" {
		dir = "./"
	}
	return &PathLocker{WorkingDirectory: dir}
}

// Resolve validates path against the locker's working directory and, if
// mustExist is true, confirms it names an existing file or directory. It
// returns the absolute path on success.
func (l *PathLocker) Resolve(path string, mustExist bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed, use relative paths")
	}

	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("directory traversal not allowed (..)")
	}

	absPath, err := filepath.Abs(filepath.Join(l.WorkingDirectory, cleaned))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	absWorkDir, err := filepath.Abs(l.WorkingDirectory)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}

	if absPath != absWorkDir && !strings.HasPrefix(absPath, absWorkDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory")
	}

	if mustExist {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", path)
		}
	}

	return absPath, nil
}

// ValidateFilePathTool is the validate_file_path built-in: a structural
// guard every file-touching task should call before assuming a path it was
// handed (often by the model, sometimes hallucinated outright) is safe to
// read or write. It never mutates anything — it only reports whether the
// path is in-bounds and, if so, whether it currently exists.
type ValidateFilePathTool struct {
	locker *PathLocker
}

func NewValidateFilePathTool(workingDirectory string) *ValidateFilePathTool {
	return &ValidateFilePathTool{locker: NewPathLocker(workingDirectory)}
}

func NewValidateFilePathToolWithConfig(name string, toolConfig *config.ToolConfig) (*ValidateFilePathTool, error) {
	if toolConfig == nil {
		return nil, fmt.Errorf("tool config is required")
	}
	return NewValidateFilePathTool(toolConfig.WorkingDirectory), nil
}

func (t *ValidateFilePathTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "validate_file_path",
		Description: "Check whether a path is inside the working directory and report if it exists, before trusting it for a read or write. Use this first on any path you did not just read back from list_files or get_file_info.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "Path to validate, relative to the working directory", Required: true},
		},
		ServerURL: "local",
	}
}

func (t *ValidateFilePathTool) GetName() string { return "validate_file_path" }
func (t *ValidateFilePathTool) GetDescription() string {
	return "Validate that a path is confined to the working directory and report its existence"
}

func (t *ValidateFilePathTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	path, _ := args["path"].(string)

	absPath, err := t.locker.Resolve(path, false)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ToolName: "validate_file_path", ExecutionTime: time.Since(start)}, nil
	}

	info, statErr := os.Stat(absPath)
	exists := statErr == nil
	isDir := exists && info.IsDir()

	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("path %q is valid; exists=%t", path, exists),
		ToolName:      "validate_file_path",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"path":         path,
			"exists":       exists,
			"is_directory": isDir,
		},
	}, nil
}
