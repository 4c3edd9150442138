package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/errors"
)

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required" jsonschema_description:"Path of the file to read."`
}

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}

func (t *ReadFileTool) ParameterSchema() map[string]interface{} {
	return reflectSchema[readFileArgs]()
}

// RequiresConfirmation: reading is safe, so only the always-ask mode prompts.
func (t *ReadFileTool) RequiresConfirmation(args map[string]interface{}, mode config.ApprovalMode) *Confirmation {
	if mode != config.ApprovalPrompt {
		return nil
	}
	path, _ := args["path"].(string)
	return &Confirmation{
		Title:       "Read file",
		Description: fmt.Sprintf("read_file wants to read '%s'", path),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}

	hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required" jsonschema_description:"Path of the file to write."`
	Content string `json:"content" jsonschema:"required" jsonschema_description:"Full new content of the file."`
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}

func (t *WriteFileTool) ParameterSchema() map[string]interface{} {
	return reflectSchema[writeFileArgs]()
}

// RequiresConfirmation: writes are destructive; only full auto-approval
// skips the prompt.
func (t *WriteFileTool) RequiresConfirmation(args map[string]interface{}, mode config.ApprovalMode) *Confirmation {
	if mode == config.ApprovalAuto {
		return nil
	}
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	return &Confirmation{
		Title:       "Write file",
		Description: fmt.Sprintf("write_file wants to replace '%s' with %d bytes", path, len(content)),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}

	hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	readOnly, err := isPathRestricted(path, t.fsAccess.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", path)
	}

	err = os.WriteFile(path, []byte(content), 0644)
	if err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}
