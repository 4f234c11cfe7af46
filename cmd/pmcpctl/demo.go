package main

import (
	"context"
	"fmt"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/handler"
)

// EchoArgs is the argument struct for the "echo" demo tool.
type EchoArgs struct {
	Text string `json:"text" jsonschema:"required,description=text to echo back"`
}

func registerDemoTools(s *pmcp.Server) {
	s.RegisterTool(pmcp.Tool{
		Name:        "echo",
		Description: "Echoes the given text back to the caller.",
		InputSchema: handler.MustSchemaFor(EchoArgs{}),
		Handler: handler.Tool(func(ctx context.Context, args EchoArgs) (*pmcp.ToolResult, error) {
			return &pmcp.ToolResult{Content: []pmcp.ContentBlock{pmcp.TextContent(args.Text)}}, nil
		}),
	})

	s.RegisterPrompt(pmcp.Prompt{
		Name:        "greeting",
		Description: "Produces a friendly greeting for the named user.",
		Handler: func(ctx context.Context, arguments map[string]string) ([]pmcp.Message, error) {
			name := arguments["name"]
			if name == "" {
				name = "there"
			}
			return []pmcp.Message{{
				Role:    "user",
				Content: []pmcp.ContentBlock{pmcp.TextContent(fmt.Sprintf("Say hello to %s.", name))},
			}}, nil
		},
	})

	s.RegisterResource(pmcp.Resource{
		URI:         "demo://status",
		Name:        "status",
		Description: "A static status resource for demonstration purposes.",
		MimeType:    "text/plain",
		Handler: func(ctx context.Context, uri string) (*pmcp.ResourceContents, error) {
			return &pmcp.ResourceContents{URI: uri, MimeType: "text/plain", Text: "ok"}, nil
		},
	})
}

func demoServerInfo() pmcp.ServerInfo {
	return pmcp.ServerInfo{Name: "pmcpctl-demo", Version: "0.1.0"}
}

func demoServerOptions() *pmcp.ServerOptions {
	return &pmcp.ServerOptions{
		Capabilities: pmcp.ServerCapabilities{
			Tools:     &pmcp.ListChangedCapability{ListChanged: true},
			Prompts:   &pmcp.ListChangedCapability{ListChanged: true},
			Resources: &pmcp.ResourceCapability{ListChanged: true, Subscribe: true},
		},
	}
}
