package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

type treeEntry struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"` // "file" or "directory"
	Children []treeEntry `json:"children,omitempty"`
}

// validatePath resolves requestedPath and verifies it stays inside one of the
// allowed roots. Symlinks are resolved before the check; for paths that do
// not exist yet, the parent directory must resolve inside a root.
func validatePath(requestedPath string, roots []string) (string, error) {
	expanded := os.ExpandEnv(filepath.FromSlash(requestedPath))

	absolute, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}

	if !insideRoots(filepath.Clean(absolute), roots) {
		return "", fmt.Errorf("access denied - path %s outside allowed directories %s",
			requestedPath, strings.Join(roots, ", "))
	}

	realPath, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}

		parentDir := filepath.Dir(absolute)
		realParent, err := filepath.EvalSymlinks(parentDir)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("access denied - parent directory %s does not exist", parentDir)
			}
			return "", err
		}
		if !insideRoots(filepath.Clean(realParent), roots) {
			return "", fmt.Errorf("access denied - parent directory %s outside allowed directories %s",
				parentDir, strings.Join(roots, ", "))
		}

		return absolute, nil
	}

	if !insideRoots(filepath.Clean(realPath), roots) {
		return "", fmt.Errorf("access denied - real path %s outside allowed directories %s",
			realPath, strings.Join(roots, ", "))
	}

	return realPath, nil
}

func insideRoots(path string, roots []string) bool {
	for _, root := range roots {
		if isSubpath(path, root) {
			return true
		}
	}
	return false
}

func isSubpath(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func createUnifiedDiff(originalContent, newContent, path string) string {
	dmp := diffmatchpatch.New()

	normalizedOriginal := normalizeLineEndings(originalContent)
	normalizedNew := normalizeLineEndings(newContent)

	diffs := dmp.DiffMain(normalizedOriginal, normalizedNew, true)
	patches := dmp.PatchMake(diffs)

	var diff strings.Builder
	fmt.Fprintf(&diff, "--- %s (original)\n", path)
	fmt.Fprintf(&diff, "+++ %s (modified)\n", path)

	for _, patch := range patches {
		diff.WriteString(dmp.PatchToText([]diffmatchpatch.Patch{patch}))
	}

	return diff.String()
}

// applyFileEdits applies edits to the file at filePath and returns a
// formatted unified diff of the change. When dryRun is set, the diff is
// computed but the file is left untouched.
func applyFileEdits(filePath string, edits []EditOperation, dryRun bool) (string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	modified, err := applyEdits(string(content), edits)
	if err != nil {
		return "", err
	}

	diff := formatDiffOutput(createUnifiedDiff(string(content), modified, filePath))

	if !dryRun {
		if err := os.WriteFile(filePath, []byte(modified), 0600); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
	}

	return diff, nil
}

// applyEdits tries an exact substring replacement for each edit, then falls
// back to whitespace-insensitive line matching that preserves the original
// indentation.
func applyEdits(content string, edits []EditOperation) (string, error) {
	modified := normalizeLineEndings(content)

	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)

		if strings.Contains(modified, oldText) {
			modified = strings.Replace(modified, oldText, newText, 1)
			continue
		}

		replaced, found := tryLineByLineMatch(modified, oldText, newText)
		if !found {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		modified = replaced
	}

	return modified, nil
}

func tryLineByLineMatch(content, oldText, newText string) (string, bool) {
	oldLines := strings.Split(oldText, "\n")
	contentLines := strings.Split(content, "\n")

	for i := 0; i <= len(contentLines)-len(oldLines); i++ {
		if isMatchingBlock(contentLines[i:i+len(oldLines)], oldLines) {
			return replaceMatchingBlock(contentLines, i, len(oldLines), oldLines, newText), true
		}
	}

	return content, false
}

func isMatchingBlock(contentBlock, oldLines []string) bool {
	for j, oldLine := range oldLines {
		if strings.TrimSpace(oldLine) != strings.TrimSpace(contentBlock[j]) {
			return false
		}
	}
	return true
}

func replaceMatchingBlock(
	contentLines []string,
	startIdx, blockLen int,
	oldLines []string,
	newText string,
) string {
	originalIndent := getLeadingWhitespace(contentLines[startIdx])
	newLines := reindentNewLines(originalIndent, oldLines, strings.Split(newText, "\n"))

	result := make([]string, 0, len(contentLines)-blockLen+len(newLines))
	result = append(result, contentLines[:startIdx]...)
	result = append(result, newLines...)
	result = append(result, contentLines[startIdx+blockLen:]...)

	return strings.Join(result, "\n")
}

func reindentNewLines(originalIndent string, oldLines, newLines []string) []string {
	result := make([]string, 0, len(newLines))

	for j, line := range newLines {
		if j == 0 {
			result = append(result, originalIndent+strings.TrimLeft(line, " \t"))
			continue
		}

		if strings.TrimSpace(line) == "" {
			result = append(result, originalIndent)
			continue
		}

		oldIndent := ""
		if j < len(oldLines) {
			oldIndent = getLeadingWhitespace(oldLines[j])
		}

		relativeIndent := len(getLeadingWhitespace(line)) - len(oldIndent)
		if relativeIndent < 0 {
			relativeIndent = 0
		}
		result = append(result, originalIndent+strings.Repeat(" ", relativeIndent)+strings.TrimLeft(line, " \t"))
	}

	return result
}

func formatDiffOutput(diff string) string {
	numBackticks := 3
	for strings.Contains(diff, strings.Repeat("`", numBackticks)) {
		numBackticks++
	}
	return fmt.Sprintf("%s\ndiff\n%s%s\n\n",
		strings.Repeat("`", numBackticks),
		diff,
		strings.Repeat("`", numBackticks))
}

func getLeadingWhitespace(s string) string {
	return strings.TrimRight(s[:len(s)-len(strings.TrimLeft(s, " \t"))], "\n\r")
}

// buildTree walks currentPath recursively, validating every level against the
// roots. The .git directory is skipped.
func buildTree(roots []string, currentPath string) ([]treeEntry, error) {
	validPath, err := validatePath(currentPath, roots)
	if err != nil {
		return nil, fmt.Errorf("path validation failed: %w", err)
	}

	entries, err := os.ReadDir(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := make([]treeEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}

		entryData := treeEntry{
			Name: entry.Name(),
			Type: "file",
		}

		if entry.IsDir() {
			entryData.Type = "directory"
			subPath := filepath.Join(currentPath, entry.Name())

			children, err := buildTree(roots, subPath)
			if err != nil {
				return nil, fmt.Errorf("failed to build subtree for %s: %w", subPath, err)
			}
			entryData.Children = children
		}

		result = append(result, entryData)
	}

	return result, nil
}

// searchFilesWithPattern walks rootPath looking for entries whose name
// contains pattern, case-insensitively. Exclude patterns are glob expressions
// matched against the path relative to rootPath; a bare name is treated as
// matching that name anywhere in the tree.
func searchFilesWithPattern(rootPath, pattern string, roots, excludePatterns []string) ([]string, error) {
	var results []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Bound the walk's concurrency.
	semaphore := make(chan struct{}, 50)

	compiledPatterns := make([]glob.Glob, 0, len(excludePatterns))
	for _, pattern := range excludePatterns {
		if !strings.Contains(pattern, "*") {
			pattern = "**/" + pattern + "/**"
		}
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		compiledPatterns = append(compiledPatterns, compiled)
	}

	searchPattern := strings.ToLower(pattern)

	var search func(currentPath string)
	search = func(currentPath string) {
		defer wg.Done()

		validPath, err := validatePath(currentPath, roots)
		if err != nil {
			return
		}

		entries, err := os.ReadDir(validPath)
		if err != nil {
			return
		}

		for _, entry := range entries {
			fullPath := filepath.Join(currentPath, entry.Name())

			if _, err := validatePath(fullPath, roots); err != nil {
				continue
			}

			relativePath, err := filepath.Rel(rootPath, fullPath)
			if err != nil {
				continue
			}

			excluded := false
			for _, pattern := range compiledPatterns {
				if pattern.Match(relativePath) {
					excluded = true
					break
				}
			}
			if excluded {
				continue
			}

			if strings.Contains(strings.ToLower(entry.Name()), searchPattern) {
				mu.Lock()
				results = append(results, fullPath)
				mu.Unlock()
			}

			if entry.IsDir() {
				wg.Add(1)
				go func(path string) {
					semaphore <- struct{}{}
					search(path)
					<-semaphore
				}(fullPath)
			}
		}
	}

	wg.Add(1)
	search(rootPath)
	wg.Wait()

	return results, nil
}
