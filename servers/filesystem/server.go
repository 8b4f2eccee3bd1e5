// Package filesystem exposes a restricted view of the local filesystem as
// tools, resources, and prompts. All operations are confined to a configured
// set of root directories; paths that escape the roots, including through
// symlinks, are rejected.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/protocolkit/mcp"
)

// Server provides filesystem access scoped to a set of root directories.
// Create instances with NewServer, then attach them to a registry with
// Register.
type Server struct {
	roots    []string
	registry *mcp.Registry
}

// NewServer creates a filesystem server rooted at the given directories.
// Every root must exist and be a directory; roots are normalized to absolute
// cleaned paths.
func NewServer(roots []string) (*Server, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root directory is required")
	}

	normalized := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root directory %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root directory is not a directory: %s", root)
		}
		normalized = append(normalized, abs)
	}

	return &Server{roots: normalized}, nil
}

// Register adds the server's tools, resources, and prompts to reg. Each root
// directory becomes a readable resource, and file writes are announced
// through the registry's resource-updated mechanism.
func (s *Server) Register(reg *mcp.Registry) error {
	s.registry = reg

	for _, tool := range s.tools() {
		if err := reg.RegisterTool(tool); err != nil {
			return err
		}
	}

	for _, root := range s.roots {
		err := reg.RegisterResource(mcp.ResourceDescriptor{
			URI:         fileURI(root),
			Name:        filepath.Base(root),
			Description: fmt.Sprintf("Directory tree of %s", root),
			MimeType:    "application/json",
			Handler: mcp.ResourceHandlerFunc(func(
				ctx context.Context,
				params mcp.ReadResourceParams,
				_ mcp.ProgressReporter,
			) (mcp.ReadResourceResult, error) {
				return s.readRootResource(ctx, root, params)
			}),
		})
		if err != nil {
			return err
		}
	}

	reg.RegisterResourceTemplate(mcp.ResourceTemplate{
		URITemplate: "file://{path}",
		Name:        "file",
		Description: "Contents of a file under one of the allowed root directories",
		MimeType:    "text/plain",
	})

	return reg.RegisterPrompt(mcp.PromptDescriptor{
		Name:        "review_file",
		Description: "Ask for a review of a single file's contents",
		Arguments: []mcp.PromptArgument{
			{
				Name:        "path",
				Description: "Path of the file to review",
				Required:    true,
			},
		},
		Handler: mcp.PromptHandlerFunc(s.reviewFilePrompt),
	})
}

func (s *Server) readRootResource(
	_ context.Context,
	root string,
	params mcp.ReadResourceParams,
) (mcp.ReadResourceResult, error) {
	tree, err := buildTree(s.roots, root)
	if err != nil {
		return mcp.ReadResourceResult{}, err
	}

	bs, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return mcp.ReadResourceResult{}, fmt.Errorf("failed to encode tree: %w", err)
	}

	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			{
				URI:      params.URI,
				MimeType: "application/json",
				Text:     string(bs),
			},
		},
	}, nil
}

func (s *Server) reviewFilePrompt(
	_ context.Context,
	params mcp.GetPromptParams,
	_ mcp.ProgressReporter,
) (mcp.GetPromptResult, error) {
	path := params.Arguments["path"]

	validPath, err := validatePath(path, s.roots)
	if err != nil {
		return mcp.GetPromptResult{}, err
	}

	bs, err := os.ReadFile(validPath)
	if err != nil {
		return mcp.GetPromptResult{}, fmt.Errorf("failed to read file with path %s: %w", validPath, err)
	}

	return mcp.GetPromptResult{
		Description: fmt.Sprintf("Review of %s", path),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.Content{
					Type: mcp.ContentTypeText,
					Text: fmt.Sprintf("Please review the following file.\n\nPath: %s\n\n%s", path, string(bs)),
				},
			},
		},
	}, nil
}

// announceUpdate reports a content change behind path to subscribed peers.
func (s *Server) announceUpdate(path string) {
	if s.registry == nil {
		return
	}
	s.registry.NotifyResourceUpdated(fileURI(path))
}

func fileURI(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return "file://" + slashed
}
