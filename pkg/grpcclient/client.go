package grpcclient

import (
	"errors"
	"fmt"

	"google.golang.org/grpc"
)

// ErrClientUnavailable is returned when asking a Manager for a client of an
// API version other than the one it was built for.
//
var ErrClientUnavailable = errors.New("client unavailable")

// Client is a connected handle to the engine. It is either a *V0Client or a
// *V1Client, never both.
//
type Client interface {
	APIVersion() APIVersion
	Close() error

	isClient()
}

// V0Client talks to the general dataplane API.
//
type V0Client struct {
	Conn *grpc.ClientConn
}

// V1Client talks to the pool service of the per-resource API.
//
type V1Client struct {
	Pool *grpc.ClientConn
}

var (
	_ Client = (*V0Client)(nil)
	_ Client = (*V1Client)(nil)
)

func (c *V0Client) APIVersion() APIVersion { return V0 }
func (c *V1Client) APIVersion() APIVersion { return V1 }

func (c *V0Client) isClient() {}
func (c *V1Client) isClient() {}

func (c *V0Client) Close() error {
	return closeConn(c.Conn)
}

func (c *V1Client) Close() error {
	return closeConn(c.Pool)
}

func closeConn(conn *grpc.ClientConn) error {
	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close conn: %w", err)
	}

	return nil
}

func errUnavailable(v APIVersion) error {
	return fmt.Errorf("could not get %s client: %w", v, ErrClientUnavailable)
}
