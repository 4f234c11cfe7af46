package pmcp

import (
	"context"

	"github.com/pmcp-dev/pmcp/transport"
)

// InboundRequest returns the inbound request frame associated with the
// context passed to a Handler, or nil if ctx carries none. A *Server
// populates this value for every handler invocation.
func InboundRequest(ctx context.Context) *Frame {
	if v := ctx.Value(inboundRequestKey{}); v != nil {
		return v.(*Frame)
	}
	return nil
}

type inboundRequestKey struct{}

// ServerFromContext returns the server associated with the context passed
// to a Handler by a *Server. It panics for a non-handler context.
func ServerFromContext(ctx context.Context) *Server { return ctx.Value(serverKey{}).(*Server) }

type serverKey struct{}

// ClientFromContext returns the client associated with the context passed
// to a client-side request handler (OnRequest) by a *Client.
func ClientFromContext(ctx context.Context) *Client { return ctx.Value(clientKey{}).(*Client) }

type clientKey struct{}

// TransportIDFromContext returns the TransportID the inbound frame in ctx
// arrived on, enabling a handler to reply on the same transport it was
// dispatched from when multiple transports are in play.
func TransportIDFromContext(ctx context.Context) (transport.ID, bool) {
	v, ok := ctx.Value(transportIDKey{}).(transport.ID)
	return v, ok
}

type transportIDKey struct{}
