package grpcclient

import (
	"context"
	"fmt"
)

// DefaultPort is the port the engine serves its gRPC API on.
//
const DefaultPort = 10124

// Identity is what InitClient needs to know about the pod it runs in.
//
type Identity interface {
	NodeName() (string, error)
	PodIP() (string, error)
}

// InitClient connects to the engine sharing the pod with this exporter,
// using the fixed timeouts and retry policy.
//
// Missing identity or a malformed endpoint are reported straight away;
// connection failures are retried until ctx is done.
//
func InitClient(
	ctx context.Context, version APIVersion, ident Identity, port int, opts ...Option,
) (*Manager, error) {
	podIP, err := ident.PodIP()
	if err != nil {
		return nil, fmt.Errorf("pod ip: %w", err)
	}

	if _, err := ident.NodeName(); err != nil {
		return nil, fmt.Errorf("node name: %w", err)
	}

	cctx, err := NewConnectionContext(
		EndpointFor(podIP, port), DefaultTimeouts(), version,
	)
	if err != nil {
		return nil, fmt.Errorf("new connection context: %w", err)
	}

	m, err := Connect(ctx, cctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect '%s': %w", cctx.Endpoint(), err)
	}

	return m, nil
}
