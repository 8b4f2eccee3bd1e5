package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/protocolkit/mcp"
)

func (s *Server) tools() []mcp.ToolDescriptor {
	return []mcp.ToolDescriptor{
		{
			Name: "read_file",
			Description: `
Read the complete contents of a file from the file system.
Handles various text encodings and provides detailed error messages
if the file cannot be read. Use this tool when you need to examine
the contents of a single file. Only works within allowed directories.
        `,
			InputSchema: readFileSchema,
			Handler:     mcp.ToolHandlerFunc(s.readFile),
		},
		{
			Name: "read_multiple_files",
			Description: `
Read the contents of multiple files simultaneously. This is more
efficient than reading files one by one when you need to analyze
or compare multiple files. Each file's content is returned with its
path as a reference. Failed reads for individual files won't stop
the entire operation. Only works within allowed directories.
        `,
			InputSchema: readMultipleFilesSchema,
			Handler:     mcp.ToolHandlerFunc(s.readMultipleFiles),
		},
		{
			Name: "write_file",
			Description: `
Create a new file or completely overwrite an existing file with new content.
Use with caution as it will overwrite existing files without warning.
Handles text content with proper encoding. Only works within allowed directories.
        `,
			InputSchema: writeFileSchema,
			Handler:     mcp.ToolHandlerFunc(s.writeFile),
		},
		{
			Name: "edit_file",
			Description: `
Make line-based edits to a text file. Each edit replaces exact line sequences
with new content. Returns a git-style diff showing the changes made.
Only works within allowed directories.
        `,
			InputSchema: editFileSchema,
			Handler:     mcp.ToolHandlerFunc(s.editFile),
		},
		{
			Name: "create_directory",
			Description: `
Create a new directory or ensure a directory exists. Can create multiple
nested directories in one operation. If the directory already exists,
this operation will succeed silently. Perfect for setting up directory
structures for projects or ensuring required paths exist. Only works within allowed directories.
        `,
			InputSchema: createDirectorySchema,
			Handler:     mcp.ToolHandlerFunc(s.createDirectory),
		},
		{
			Name: "list_directory",
			Description: `
Get a detailed listing of all files and directories in a specified path.
Results clearly distinguish between files and directories with [FILE] and [DIR]
prefixes. This tool is essential for understanding directory structure and
finding specific files within a directory. Only works within allowed directories.
        `,
			InputSchema: listDirectorySchema,
			Handler:     mcp.ToolHandlerFunc(s.listDirectory),
		},
		{
			Name: "directory_tree",
			Description: `
Get a recursive tree view of files and directories as a JSON structure.
Each entry includes 'name', 'type' (file/directory), and 'children' for directories.
Files have no children array, while directories always have a children array (which may be empty).
The output is formatted with 2-space indentation for readability. Only works within allowed directories.
        `,
			InputSchema: directoryTreeSchema,
			Handler:     mcp.ToolHandlerFunc(s.directoryTree),
		},
		{
			Name: "move_file",
			Description: `Move or rename files and directories. Can move files between directories
and rename them in a single operation. If the destination exists, the
operation will fail. Works across different directories and can be used
for simple renaming within the same directory. Both source and destination must be within allowed directories.
        `,
			InputSchema: moveFileSchema,
			Handler:     mcp.ToolHandlerFunc(s.moveFile),
		},
		{
			Name: "search_files",
			Description: `Recursively search for files and directories matching a pattern.
Searches through all subdirectories from the starting path. The search
is case-insensitive and matches partial names. Returns full paths to all
matching items. Great for finding files when you don't know their exact location.
Only searches within allowed directories.
        `,
			InputSchema: searchFilesSchema,
			Handler:     mcp.ToolHandlerFunc(s.searchFiles),
		},
		{
			Name: "get_file_info",
			Description: `Retrieve detailed metadata about a file or directory. Returns comprehensive
information including size, creation time, last modified time, permissions,
and type. This tool is perfect for understanding file characteristics
without reading the actual content. Only works within allowed directories.
        `,
			InputSchema: getFileInfoSchema,
			Handler:     mcp.ToolHandlerFunc(s.getFileInfo),
		},
		{
			Name: "list_allowed_directories",
			Description: `Returns the list of directories that this server is allowed to access.
Use this to understand which directories are available before trying to access files.
        `,
			InputSchema: listAllowedDirectoriesSchema,
			Handler:     mcp.ToolHandlerFunc(s.listAllowedDirectories),
		},
	}
}

func (s *Server) readFile(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args ReadFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validPath, err := validatePath(args.Path, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	info, err := os.Stat(validPath)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to stat file with path %s: %w", validPath, err)
	}
	if info.IsDir() {
		return mcp.CallToolResult{}, fmt.Errorf("path %s is a directory, not a file", validPath)
	}

	bs, err := os.ReadFile(validPath)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to read file with path %s: %w", validPath, err)
	}

	return textResult(string(bs)), nil
}

func (s *Server) readMultipleFiles(
	ctx context.Context,
	params mcp.CallToolParams,
	progress mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args ReadMultipleFilesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	result := make([]mcp.Content, 0, len(args.Paths))

	for i, path := range args.Paths {
		if err := ctx.Err(); err != nil {
			return mcp.CallToolResult{}, err
		}

		result = append(result, mcp.Content{
			Type: mcp.ContentTypeText,
			Text: s.readOneOf(path),
		})

		progress(mcp.ProgressParams{
			Progress: float64(i + 1),
			Total:    float64(len(args.Paths)),
		})
	}

	return mcp.CallToolResult{
		Content: result,
		IsError: false,
	}, nil
}

// readOneOf reads a single file for read_multiple_files. Failures become part
// of the output so one unreadable file does not abort the batch.
func (s *Server) readOneOf(path string) string {
	validPath, err := validatePath(path, s.roots)
	if err != nil {
		return fmt.Sprintf("%s: Error - %s\n", path, err)
	}

	bs, err := os.ReadFile(validPath)
	if err != nil {
		return fmt.Sprintf("%s: Error - %s\n", path, err)
	}

	return fmt.Sprintf("File content of %s:\n%s\n", path, string(bs))
}

func (s *Server) writeFile(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args WriteFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validPath, err := validatePath(args.Path, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	if err := os.WriteFile(validPath, []byte(args.Content), 0600); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to write file with path %s: %w", validPath, err)
	}

	s.announceUpdate(validPath)

	return textResult(fmt.Sprintf("File %s written successfully", args.Path)), nil
}

func (s *Server) editFile(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args EditFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validPath, err := validatePath(args.Path, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	diff, err := applyFileEdits(validPath, args.Edits, args.DryRun)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	if !args.DryRun {
		s.announceUpdate(validPath)
	}

	return textResult(diff), nil
}

func (s *Server) createDirectory(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args CreateDirectoryArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validPath, err := validatePath(args.Path, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	if err := os.MkdirAll(validPath, 0700); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to create directory with path %s: %w", validPath, err)
	}

	return textResult(fmt.Sprintf("Directory %s created successfully", args.Path)), nil
}

func (s *Server) listDirectory(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args ListDirectoryArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validPath, err := validatePath(args.Path, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	entries, err := os.ReadDir(validPath)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to read directory with path %s: %w", validPath, err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		prefix := "[FILE]"
		if entry.IsDir() {
			prefix = "[DIR]"
		}
		fmt.Fprintf(&sb, "%s %s\n", prefix, entry.Name())
	}

	return textResult(sb.String()), nil
}

func (s *Server) directoryTree(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args DirectoryTreeArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	tree, err := buildTree(s.roots, args.Path)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	bs, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to encode tree: %w", err)
	}

	return textResult(string(bs)), nil
}

func (s *Server) moveFile(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args MoveFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validSource, err := validatePath(args.Source, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	validDestination, err := validatePath(args.Destination, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	if _, err := os.Stat(validDestination); err == nil {
		return mcp.CallToolResult{}, fmt.Errorf("destination %s already exists", args.Destination)
	}

	if err := os.Rename(validSource, validDestination); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to move file with path %s: %w", validSource, err)
	}

	s.announceUpdate(validSource)

	return textResult(fmt.Sprintf("File %s moved to %s successfully", args.Source, args.Destination)), nil
}

func (s *Server) searchFiles(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args SearchFilesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validPath, err := validatePath(args.Path, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	matches, err := searchFilesWithPattern(validPath, args.Pattern, s.roots, args.Exclude)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to search files: %w", err)
	}

	if len(matches) == 0 {
		return textResult("No files found"), nil
	}

	return textResult(strings.Join(matches, "\n")), nil
}

func (s *Server) getFileInfo(
	_ context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	var args GetFileInfoArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	validPath, err := validatePath(args.Path, s.roots)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	info, err := os.Stat(validPath)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to stat file with path %s: %w", validPath, err)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}

	text := fmt.Sprintf("Size: %d\nModified: %s\nMode: %s\nType: %s\n",
		info.Size(), info.ModTime().Format("2006-01-02 15:04:05"), info.Mode(), kind)

	return textResult(text), nil
}

func (s *Server) listAllowedDirectories(
	_ context.Context,
	_ mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	return textResult(fmt.Sprintf("Allowed directories:\n%s", strings.Join(s.roots, "\n"))), nil
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: text,
			},
		},
		IsError: false,
	}
}
