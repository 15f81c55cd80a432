package grpcclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Dialer performs a single connection attempt. Implementations must give up
// once ctx is done.
//
type Dialer interface {
	Dial(ctx context.Context, cctx ConnectionContext) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
//
type DialerFunc func(ctx context.Context, cctx ConnectionContext) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, cctx ConnectionContext) (Client, error) {
	return f(ctx, cctx)
}

// GRPCDialer dials the engine with grpc, blocking until the transport is
// ready.
//
type GRPCDialer struct {
	// creds are the transport credentials used for the connection.
	//
	// default: insecure
	//
	creds credentials.TransportCredentials

	// opts are extra dial options appended after the defaults.
	//
	opts []grpc.DialOption
}

var _ Dialer = (*GRPCDialer)(nil)

// GRPCDialerOption overrides defaults of a GRPCDialer.
//
type GRPCDialerOption func(d *GRPCDialer)

// WithTransportCredentials makes the dialer use `v` instead of an insecure
// transport.
//
func WithTransportCredentials(v credentials.TransportCredentials) GRPCDialerOption {
	return func(d *GRPCDialer) {
		d.creds = v
	}
}

// WithDialOptions appends extra grpc dial options.
//
func WithDialOptions(v ...grpc.DialOption) GRPCDialerOption {
	return func(d *GRPCDialer) {
		d.opts = append(d.opts, v...)
	}
}

// NewGRPCDialer instantiates a GRPCDialer.
//
func NewGRPCDialer(opts ...GRPCDialerOption) *GRPCDialer {
	d := &GRPCDialer{
		creds: insecure.NewCredentials(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dial connects to the engine and wraps the connection in the client type
// matching the context's API version.
//
func (d *GRPCDialer) Dial(ctx context.Context, cctx ConnectionContext) (Client, error) {
	dialOpts := make([]grpc.DialOption, 0, 4+len(d.opts))
	dialOpts = append(dialOpts,
		grpc.WithTransportCredentials(d.creds),
		grpc.WithBlock(),
		grpc.WithReturnConnectionError(),
		grpc.WithUnaryInterceptor(
			requestTimeoutInterceptor(cctx.Timeouts().Request()),
		),
	)
	dialOpts = append(dialOpts, d.opts...)

	conn, err := grpc.DialContext(ctx, cctx.Target(), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial '%s': %w", cctx.Target(), err)
	}

	switch cctx.APIVersion() {
	case V0:
		return &V0Client{Conn: conn}, nil
	case V1:
		return &V1Client{Pool: conn}, nil
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unsupported api version %s", cctx.APIVersion())
	}
}

// requestTimeoutInterceptor bounds every unary call that doesn't already
// carry a deadline.
//
func requestTimeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
	) error {
		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc

			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
