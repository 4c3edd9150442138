package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alby13/grok-cli/config"
	"github.com/alby13/grok-cli/errors"
	"github.com/bmatcuk/doublestar/v4"
)

const maxSearchMatches = 200

type searchFilesArgs struct {
	Pattern string `json:"pattern" jsonschema:"required" jsonschema_description:"Doublestar glob selecting files to search, e.g. '**/*.go'."`
	Query   string `json:"query" jsonschema:"required" jsonschema_description:"Substring to look for in the selected files."`
}

// SearchFilesTool searches file contents across a glob of paths. It is
// read-only and respects the same hidden-path restrictions as read_file.
type SearchFilesTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return "Searches files matching a glob pattern for a substring and returns matching lines. Args: pattern (string), query (string)."
}

func (t *SearchFilesTool) ParameterSchema() map[string]interface{} {
	return reflectSchema[searchFilesArgs]()
}

// RequiresConfirmation: searching is safe, so only the always-ask mode prompts.
func (t *SearchFilesTool) RequiresConfirmation(args map[string]interface{}, mode config.ApprovalMode) *Confirmation {
	if mode != config.ApprovalPrompt {
		return nil
	}
	pattern, _ := args["pattern"].(string)
	query, _ := args["query"].(string)
	return &Confirmation{
		Title:       "Search files",
		Description: fmt.Sprintf("search_files wants to search '%s' for %q", pattern, query),
	}
}

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	pattern, patternOk := args["pattern"].(string)
	query, queryOk := args["query"].(string)
	if !patternOk || !queryOk {
		return "", errors.New("missing or invalid 'pattern' or 'query' arguments")
	}

	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return "", errors.New("invalid glob pattern '%s': %v", pattern, err)
	}

	var b strings.Builder
	matches := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
		if err != nil {
			return "", err
		}
		if hidden {
			continue
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		for i, line := range strings.Split(string(content), "\n") {
			if !strings.Contains(line, query) {
				continue
			}
			fmt.Fprintf(&b, "%s:%d: %s\n", path, i+1, strings.TrimSpace(line))
			matches++
			if matches >= maxSearchMatches {
				fmt.Fprintf(&b, "-- truncated at %d matches --\n", maxSearchMatches)
				return b.String(), nil
			}
		}
	}

	if matches == 0 {
		return fmt.Sprintf("No matches for %q in files matching '%s'.", query, pattern), nil
	}
	return b.String(), nil
}
