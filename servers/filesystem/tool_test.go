package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/protocolkit/mcp"
)

func TestReadFile(t *testing.T) {
	s, tempDir := newTestServer(t)

	testContent := "test content"
	testFile := filepath.Join(tempDir, "test.txt")
	if err := os.WriteFile(testFile, []byte(testContent), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	args, _ := json.Marshal(ReadFileArgs{Path: testFile})
	result, err := s.readFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("Expected 1 content item, got %d", len(result.Content))
	}
	if result.Content[0].Text != testContent {
		t.Errorf("Expected content %q, got %q", testContent, result.Content[0].Text)
	}

	args, _ = json.Marshal(ReadFileArgs{Path: filepath.Join(tempDir, "nonexistent.txt")})
	if _, err := s.readFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress); err == nil {
		t.Error("Expected error for non-existent file, got none")
	}
}

func TestReadFileOutsideRoot(t *testing.T) {
	s, _ := newTestServer(t)

	args, _ := json.Marshal(ReadFileArgs{Path: "/etc/passwd"})
	_, err := s.readFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err == nil {
		t.Fatal("Expected error for path outside root, got none")
	}
	if !strings.Contains(err.Error(), "access denied") {
		t.Errorf("Expected access denied error, got %v", err)
	}
}

func TestReadMultipleFiles(t *testing.T) {
	s, tempDir := newTestServer(t)

	files := map[string]string{
		"file1.txt": "content1",
		"file2.txt": "content2",
	}

	var paths []string
	for name, content := range files {
		path := filepath.Join(tempDir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
		paths = append(paths, path)
	}
	paths = append(paths, filepath.Join(tempDir, "missing.txt"))

	var updates []mcp.ProgressParams
	progress := func(p mcp.ProgressParams) {
		updates = append(updates, p)
	}

	args, _ := json.Marshal(ReadMultipleFilesArgs{Paths: paths})
	result, err := s.readMultipleFiles(context.Background(), mcp.CallToolParams{Arguments: args}, progress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(result.Content) != len(paths) {
		t.Errorf("Expected %d contents, got %d", len(paths), len(result.Content))
	}
	if !strings.Contains(result.Content[len(paths)-1].Text, "Error") {
		t.Error("Expected failed read to be reported in content")
	}
	if len(updates) != len(paths) {
		t.Errorf("Expected %d progress updates, got %d", len(paths), len(updates))
	}
	if last := updates[len(updates)-1]; last.Progress != last.Total {
		t.Errorf("Expected final progress to equal total, got %f/%f", last.Progress, last.Total)
	}
}

func TestWriteFile(t *testing.T) {
	s, tempDir := newTestServer(t)

	testContent := "test content"
	testFile := filepath.Join(tempDir, "write_test.txt")

	args, _ := json.Marshal(WriteFileArgs{
		Path:    testFile,
		Content: testContent,
	})

	if _, err := s.writeFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Errorf("Failed to read written file: %v", err)
	}
	if string(content) != testContent {
		t.Errorf("Expected content %q, got %q", testContent, string(content))
	}
}

func TestWriteFileAnnouncesUpdate(t *testing.T) {
	s, tempDir := newTestServer(t)

	reg := mcp.NewRegistry()
	if err := s.Register(reg); err != nil {
		t.Fatalf("Failed to register server: %v", err)
	}

	var events []mcp.RegistryEvent
	reg.OnChange(func(ev mcp.RegistryEvent) {
		events = append(events, ev)
	})

	testFile := filepath.Join(tempDir, "announce_test.txt")
	args, _ := json.Marshal(WriteFileArgs{Path: testFile, Content: "data"})

	result, err := reg.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "write_file",
		Arguments: args,
	}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got tool error: %v", result.Content)
	}

	var updated bool
	for _, ev := range events {
		if ev.Kind == mcp.RegistryEventResourceUpdated && ev.URI == fileURI(testFile) {
			updated = true
		}
	}
	if !updated {
		t.Error("Expected resource updated event for written file")
	}
}

func TestEditFile(t *testing.T) {
	s, tempDir := newTestServer(t)

	testFile := filepath.Join(tempDir, "edit_test.txt")
	initialContent := "line1\nline2\nline3\n"
	if err := os.WriteFile(testFile, []byte(initialContent), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	edits := []EditOperation{
		{
			OldText: "line2",
			NewText: "modified line2",
		},
	}

	args, _ := json.Marshal(EditFileArgs{
		Path:   testFile,
		Edits:  edits,
		DryRun: false,
	})

	result, err := s.editFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(result.Content[0].Text, "diff") {
		t.Error("Expected diff output in result")
	}

	content, _ := os.ReadFile(testFile)
	if !strings.Contains(string(content), "modified line2") {
		t.Error("File content was not modified as expected")
	}
}

func TestEditFileDryRun(t *testing.T) {
	s, tempDir := newTestServer(t)

	testFile := filepath.Join(tempDir, "dry_run_test.txt")
	initialContent := "line1\nline2\n"
	if err := os.WriteFile(testFile, []byte(initialContent), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	args, _ := json.Marshal(EditFileArgs{
		Path:   testFile,
		Edits:  []EditOperation{{OldText: "line1", NewText: "changed"}},
		DryRun: true,
	})

	if _, err := s.editFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	content, _ := os.ReadFile(testFile)
	if string(content) != initialContent {
		t.Error("Dry run modified the file")
	}
}

func TestCreateDirectory(t *testing.T) {
	s, tempDir := newTestServer(t)

	newDir := filepath.Join(tempDir, "new_dir", "nested_dir")
	args, _ := json.Marshal(CreateDirectoryArgs{Path: newDir})

	if _, err := s.createDirectory(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if info, err := os.Stat(newDir); err != nil || !info.IsDir() {
		t.Error("Directory was not created as expected")
	}
}

func TestListDirectory(t *testing.T) {
	s, tempDir := newTestServer(t)

	testFiles := []string{"file1.txt", "file2.txt"}
	testDirs := []string{"dir1", "dir2"}

	for _, file := range testFiles {
		if err := os.WriteFile(filepath.Join(tempDir, file), []byte("test"), 0600); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}
	for _, dir := range testDirs {
		if err := os.Mkdir(filepath.Join(tempDir, dir), 0700); err != nil {
			t.Fatalf("Failed to create test directory: %v", err)
		}
	}

	args, _ := json.Marshal(ListDirectoryArgs{Path: tempDir})
	result, err := s.listDirectory(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(result.Content[0].Text), "\n")
	if len(lines) != len(testFiles)+len(testDirs) {
		t.Errorf("Expected %d items, got %d", len(testFiles)+len(testDirs), len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "[FILE] ") && !strings.HasPrefix(line, "[DIR] ") {
			t.Errorf("Invalid listing format: %s", line)
		}
	}
}

func TestDirectoryTree(t *testing.T) {
	s, tempDir := newTestServer(t)

	if err := os.MkdirAll(filepath.Join(tempDir, "dir1", "subdir"), 0700); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "dir1", "file1.txt"), []byte("test"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	args, _ := json.Marshal(DirectoryTreeArgs{Path: tempDir})
	result, err := s.directoryTree(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var treeData []treeEntry
	if err := json.Unmarshal([]byte(result.Content[0].Text), &treeData); err != nil {
		t.Fatalf("Invalid JSON structure: %v", err)
	}
	if len(treeData) != 1 {
		t.Fatalf("Expected 1 top-level entry, got %d", len(treeData))
	}
	if treeData[0].Type != "directory" {
		t.Errorf("Expected directory entry, got %s", treeData[0].Type)
	}
	if len(treeData[0].Children) != 2 {
		t.Errorf("Expected 2 children, got %d", len(treeData[0].Children))
	}
}

func TestMoveFile(t *testing.T) {
	s, tempDir := newTestServer(t)

	sourcePath := filepath.Join(tempDir, "source.txt")
	destPath := filepath.Join(tempDir, "dest.txt")
	if err := os.WriteFile(sourcePath, []byte("test content"), 0600); err != nil {
		t.Fatalf("Failed to create source file: %v", err)
	}

	args, _ := json.Marshal(MoveFileArgs{
		Source:      sourcePath,
		Destination: destPath,
	})

	if _, err := s.moveFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if _, err := os.Stat(sourcePath); !os.IsNotExist(err) {
		t.Error("Source file still exists")
	}
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		t.Error("Destination file doesn't exist")
	}
}

func TestMoveFileExistingDestination(t *testing.T) {
	s, tempDir := newTestServer(t)

	sourcePath := filepath.Join(tempDir, "source.txt")
	destPath := filepath.Join(tempDir, "dest.txt")
	for _, path := range []string{sourcePath, destPath} {
		if err := os.WriteFile(path, []byte("test"), 0600); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	args, _ := json.Marshal(MoveFileArgs{Source: sourcePath, Destination: destPath})
	if _, err := s.moveFile(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress); err == nil {
		t.Error("Expected error for existing destination, got none")
	}
}

func TestSearchFiles(t *testing.T) {
	s, tempDir := newTestServer(t)

	testFiles := []string{"test1.txt", "test2.txt", "other.txt"}
	for _, file := range testFiles {
		if err := os.WriteFile(filepath.Join(tempDir, file), []byte("test"), 0600); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	args, _ := json.Marshal(SearchFilesArgs{
		Path:    tempDir,
		Pattern: "test",
	})

	result, err := s.searchFiles(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	matches := strings.Split(strings.TrimSpace(result.Content[0].Text), "\n")
	if len(matches) != 2 {
		t.Errorf("Expected 2 matches, got %d: %v", len(matches), matches)
	}
}

func TestSearchFilesExclude(t *testing.T) {
	s, tempDir := newTestServer(t)

	if err := os.MkdirAll(filepath.Join(tempDir, "skipme"), 0700); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "skipme", "test_inner.txt"), []byte("test"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "test_outer.txt"), []byte("test"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	args, _ := json.Marshal(SearchFilesArgs{
		Path:    tempDir,
		Pattern: "test",
		Exclude: []string{"skipme"},
	})

	result, err := s.searchFiles(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if strings.Contains(result.Content[0].Text, "test_inner.txt") {
		t.Error("Excluded directory was searched")
	}
	if !strings.Contains(result.Content[0].Text, "test_outer.txt") {
		t.Error("Expected match outside excluded directory")
	}
}

func TestGetFileInfo(t *testing.T) {
	s, tempDir := newTestServer(t)

	testFile := filepath.Join(tempDir, "info_test.txt")
	if err := os.WriteFile(testFile, []byte("test content"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	args, _ := json.Marshal(GetFileInfoArgs{Path: testFile})
	result, err := s.getFileInfo(context.Background(), mcp.CallToolParams{Arguments: args}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	text := result.Content[0].Text
	if !strings.Contains(text, "Size: 12") {
		t.Errorf("Expected size in output, got %s", text)
	}
	if !strings.Contains(text, "Type: file") {
		t.Errorf("Expected file type in output, got %s", text)
	}
}

func TestListAllowedDirectories(t *testing.T) {
	s, tempDir := newTestServer(t)

	result, err := s.listAllowedDirectories(context.Background(), mcp.CallToolParams{}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(result.Content[0].Text, tempDir) {
		t.Errorf("Expected root %s in output, got %s", tempDir, result.Content[0].Text)
	}
}

func TestRegisterExposesCapabilities(t *testing.T) {
	s, tempDir := newTestServer(t)

	reg := mcp.NewRegistry()
	if err := s.Register(reg); err != nil {
		t.Fatalf("Failed to register server: %v", err)
	}

	if got := len(reg.Tools()); got != 11 {
		t.Errorf("Expected 11 tools, got %d", got)
	}
	if got := len(reg.Resources()); got != 1 {
		t.Errorf("Expected 1 resource, got %d", got)
	}
	if got := len(reg.ResourceTemplates()); got != 1 {
		t.Errorf("Expected 1 resource template, got %d", got)
	}
	if got := len(reg.Prompts()); got != 1 {
		t.Errorf("Expected 1 prompt, got %d", got)
	}

	testFile := filepath.Join(tempDir, "prompt_test.txt")
	if err := os.WriteFile(testFile, []byte("prompt content"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	promptRes, err := reg.GetPrompt(context.Background(), mcp.GetPromptParams{
		Name:      "review_file",
		Arguments: map[string]string{"path": testFile},
	}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(promptRes.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(promptRes.Messages))
	}
	if !strings.Contains(promptRes.Messages[0].Content.Text, "prompt content") {
		t.Error("Expected file content in prompt message")
	}

	readRes, err := reg.ReadResource(context.Background(), mcp.ReadResourceParams{
		URI: fileURI(tempDir),
	}, nopProgress)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(readRes.Contents) != 1 {
		t.Fatalf("Expected 1 content, got %d", len(readRes.Contents))
	}
	if !strings.Contains(readRes.Contents[0].Text, "prompt_test.txt") {
		t.Error("Expected tree to list created file")
	}
}

func TestCallToolRejectsInvalidArguments(t *testing.T) {
	s, _ := newTestServer(t)

	reg := mcp.NewRegistry()
	if err := s.Register(reg); err != nil {
		t.Fatalf("Failed to register server: %v", err)
	}

	_, err := reg.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "read_file",
		Arguments: []byte(`{"path": 42}`),
	}, nopProgress)
	if err == nil {
		t.Fatal("Expected error for invalid arguments, got none")
	}

	var reqErr *mcp.Error
	if !errors.As(err, &reqErr) {
		t.Fatalf("Expected wire error, got %v", err)
	}
	if reqErr.Code != mcp.CodeInvalidParams {
		t.Errorf("Expected code %d, got %d", mcp.CodeInvalidParams, reqErr.Code)
	}
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	tempDir := t.TempDir()
	// Resolve symlinked temp roots (e.g. /tmp on darwin) so path validation
	// compares real paths.
	resolved, err := filepath.EvalSymlinks(tempDir)
	if err != nil {
		t.Fatalf("Failed to resolve temp dir: %v", err)
	}

	s, err := NewServer([]string{resolved})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s, resolved
}

func nopProgress(mcp.ProgressParams) {}
