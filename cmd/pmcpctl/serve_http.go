package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/streamhttp"
	"github.com/pmcp-dev/pmcp/transport"
)

func newServeHTTPCmd() *cobra.Command {
	var addr string
	var stateless bool

	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve the demo registry over the streamable-HTTP binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			h := streamhttp.NewHandler(func(_ *http.Request, tr transport.Transport) *pmcp.Server {
				s := pmcp.NewServer(tr, demoServerInfo(), demoServerOptions())
				registerDemoTools(s)
				return s
			}, streamhttp.HandlerOptions{Stateless: stateless})
			defer h.Close()

			mux := http.NewServeMux()
			mux.Handle("/mcp", h)

			srv := &http.Server{Addr: addr, Handler: mux}
			go func() {
				<-cmd.Context().Done()
				srv.Close()
			}()

			cmd.Printf("pmcpctl: listening on %s/mcp\n", addr)
			err := srv.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().BoolVar(&stateless, "stateless", false, "disable session persistence and SSE resumability")
	return cmd
}
