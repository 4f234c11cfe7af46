// Program pmcpctl runs a small demonstration MCP server exposing a handful
// of sample tools, prompts, and resources, over either the stdio or
// streamable-HTTP binding.
//
// Usage:
//
//	pmcpctl serve stdio
//	pmcpctl serve http --addr :8080
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "pmcpctl",
		Short:         "Run a demo pmcp server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pmcpctl:", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo tool registry",
	}
	cmd.AddCommand(newServeStdioCmd())
	cmd.AddCommand(newServeHTTPCmd())
	return cmd
}
