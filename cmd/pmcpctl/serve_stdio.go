package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/transport"
)

func newServeStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the demo registry over the stdio binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			tr := transport.NewStdio(os.Stdin, os.Stdout)
			s := pmcp.NewServer(tr, demoServerInfo(), demoServerOptions())
			registerDemoTools(s)

			go func() {
				<-cmd.Context().Done()
				s.Close()
			}()
			s.Wait()
			return nil
		},
	}
}
