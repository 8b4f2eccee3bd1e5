// Command filesystem wires the filesystem server and a client together over
// in-process pipes and runs a few operations against the given directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/protocolkit/mcp"
	"github.com/protocolkit/mcp/servers/filesystem"
)

func main() {
	path := flag.String("path", "", "Directory to serve (required)")
	flag.StringVar(path, "p", "", "Directory to serve (required) (shorthand)")
	flag.Parse()

	if *path == "" {
		fmt.Println("Error: path is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*path); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	srvReader, cliWriter := io.Pipe()
	cliReader, srvWriter := io.Pipe()

	srvIO := mcp.NewStdIO(srvReader, srvWriter, nil)
	cliIO := mcp.NewStdIO(cliReader, cliWriter, nil)

	fsServer, err := filesystem.NewServer([]string{path})
	if err != nil {
		return fmt.Errorf("create filesystem server: %w", err)
	}

	registry := mcp.NewRegistry()
	if err := fsServer.Register(registry); err != nil {
		return fmt.Errorf("register filesystem server: %w", err)
	}

	srv := mcp.NewServer(mcp.Info{
		Name:    "filesystem",
		Version: "1.0",
	}, registry)
	go func() {
		_ = srv.Serve(srvIO)
	}()

	cli := mcp.NewClient(mcp.Info{
		Name:    "filesystem-example",
		Version: "1.0",
	}, cliIO)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cli.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer cli.Disconnect()

	tools, err := cli.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	fmt.Printf("Server exposes %d tools:\n", len(tools.Tools))
	for _, tool := range tools.Tools {
		fmt.Printf("  %s\n", tool.Name)
	}

	args, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}

	listing, err := cli.CallTool(ctx, mcp.CallToolParams{
		Name:      "list_directory",
		Arguments: args,
	})
	if err != nil {
		return fmt.Errorf("list directory: %w", err)
	}
	fmt.Printf("\nContents of %s:\n%s\n", path, listing.Content[0].Text)

	tree, err := cli.CallTool(ctx, mcp.CallToolParams{
		Name:      "directory_tree",
		Arguments: args,
	})
	if err != nil {
		return fmt.Errorf("directory tree: %w", err)
	}
	fmt.Printf("Tree:\n%s\n", tree.Content[0].Text)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
