package p2p

import (
	"context"
	"errors"
)

// ErrNoProvider is returned when the addressed node does not advertise the
// requested service (never announced, or its announcement expired).
var ErrNoProvider = errors.New("no provider for service")

// Handler serves one inbound request and returns the reply payload.
type Handler func(ctx context.Context, payload []byte) []byte

// Transport is the request-multicast primitive nodes talk over.
type Transport interface {
	// Announce registers h for service and keeps advertising this node as a
	// provider of it until ctx ends.
	Announce(ctx context.Context, service string, h Handler) error
	// Providers lists the node ids currently advertising service.
	Providers(service string) []string
	// Request delivers payload to one provider and waits for its reply or ctx.
	Request(ctx context.Context, service, nodeID string, payload []byte) ([]byte, error)
	Close() error
}
